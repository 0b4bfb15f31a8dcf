// Command covstorectl is a thin command-line front end over the covstore
// engine. It parses flags and formats output only — it holds no
// algorithmic content of its own, the same boundary distri's cmd/distri
// subcommands keep around their internal/* packages.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/covstore/covstore/internal/cerrors"
	"github.com/covstore/covstore/internal/env"

	"github.com/covstore/covstore"
)

const help = `covstorectl [-flags] <command> [args...]

Commands:
  init <path> <size_mb>           (re)create the engine at path
  create <path> <name> <type>     create a file with version 1
  write <path> <name> <offset> <data>   COW write at offset
  read <path> <name>              print the current version's content
  rollback <path> <name> <version_id>   retarget the current version
  list <path>                     list known files
  metadata <path> <name>          print version history
  blocks <path> <name>            print the current version's block list
  gc <path>                       run garbage collection
`

func main() {
	os.Exit(run(os.Args[1:]))
}

// run maps engine errors to process exit codes: 0 success, 1 user error,
// 2 capacity exhausted, 3 I/O or format error.
func run(args []string) int {
	fset := flag.NewFlagSet("covstorectl", flag.ContinueOnError)
	fset.Usage = func() { fmt.Fprint(os.Stderr, help) }
	if err := fset.Parse(args); err != nil {
		return 1
	}
	rest := fset.Args()
	if len(rest) == 0 {
		fset.Usage()
		return 1
	}

	cmd, rest := rest[0], rest[1:]
	err := dispatch(cmd, rest)
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "covstorectl:", err)
	switch {
	case cerrors.Is(err, cerrors.OutOfSpace):
		return 2
	case cerrors.Is(err, cerrors.IoError), cerrors.Is(err, cerrors.FormatError):
		return 3
	default:
		return 1
	}
}

func dispatch(cmd string, args []string) error {
	switch cmd {
	case "init":
		return cmdInit(args)
	case "create":
		return cmdCreate(args)
	case "write":
		return cmdWrite(args)
	case "read":
		return cmdRead(args)
	case "rollback":
		return cmdRollback(args)
	case "list":
		return cmdList(args)
	case "metadata":
		return cmdMetadata(args)
	case "blocks":
		return cmdBlocks(args)
	case "gc":
		return cmdGC(args)
	case "env":
		fmt.Printf("COVSTORE_ROOT=%s\n", env.StorageRoot)
		return nil
	default:
		return cerrors.Errorf(cerrors.NotFound, "unknown command %q", cmd)
	}
}

func cmdInit(args []string) error {
	if len(args) != 2 {
		return cerrors.Errorf(cerrors.NotFound, "usage: init <path> <size_mb>")
	}
	var sizeMB int
	if _, err := fmt.Sscanf(args[1], "%d", &sizeMB); err != nil {
		return err
	}
	e, err := covstore.Init(args[0], sizeMB)
	if err != nil {
		return err
	}
	return e.Destroy()
}

func cmdCreate(args []string) error {
	if len(args) != 3 {
		return cerrors.Errorf(cerrors.NotFound, "usage: create <path> <name> <type>")
	}
	e, err := open(args[0])
	if err != nil {
		return err
	}
	defer e.Destroy()
	return e.Create(args[1], args[2])
}

func cmdWrite(args []string) error {
	if len(args) != 4 {
		return cerrors.Errorf(cerrors.NotFound, "usage: write <path> <name> <offset> <data>")
	}
	e, err := open(args[0])
	if err != nil {
		return err
	}
	defer e.Destroy()
	var offset int
	if _, err := fmt.Sscanf(args[2], "%d", &offset); err != nil {
		return err
	}
	if err := e.Open(args[1]); err != nil {
		return err
	}
	defer e.Close(args[1])
	return e.Write(args[1], offset, []byte(args[3]))
}

func cmdRead(args []string) error {
	if len(args) != 2 {
		return cerrors.Errorf(cerrors.NotFound, "usage: read <path> <name>")
	}
	e, err := open(args[0])
	if err != nil {
		return err
	}
	defer e.Destroy()
	if err := e.Open(args[1]); err != nil {
		return err
	}
	defer e.Close(args[1])
	data, err := e.Read(args[1])
	if err != nil {
		return err
	}
	os.Stdout.Write(data)
	return nil
}

func cmdRollback(args []string) error {
	if len(args) != 3 {
		return cerrors.Errorf(cerrors.NotFound, "usage: rollback <path> <name> <version_id>")
	}
	e, err := open(args[0])
	if err != nil {
		return err
	}
	defer e.Destroy()
	var id uint64
	if _, err := fmt.Sscanf(args[2], "%d", &id); err != nil {
		return err
	}
	return e.Rollback(args[1], id)
}

func cmdList(args []string) error {
	if len(args) != 1 {
		return cerrors.Errorf(cerrors.NotFound, "usage: list <path>")
	}
	e, err := open(args[0])
	if err != nil {
		return err
	}
	defer e.Destroy()
	for _, name := range e.ListFiles() {
		fmt.Println(name)
	}
	return nil
}

func cmdMetadata(args []string) error {
	if len(args) != 2 {
		return cerrors.Errorf(cerrors.NotFound, "usage: metadata <path> <name>")
	}
	e, err := open(args[0])
	if err != nil {
		return err
	}
	defer e.Destroy()
	return e.PrintMetadata(os.Stdout, args[1])
}

func cmdBlocks(args []string) error {
	if len(args) != 2 {
		return cerrors.Errorf(cerrors.NotFound, "usage: blocks <path> <name>")
	}
	e, err := open(args[0])
	if err != nil {
		return err
	}
	defer e.Destroy()
	return e.InspectBlocks(os.Stdout, args[1])
}

func cmdGC(args []string) error {
	if len(args) != 1 {
		return cerrors.Errorf(cerrors.NotFound, "usage: gc <path>")
	}
	e, err := open(args[0])
	if err != nil {
		return err
	}
	defer e.Destroy()
	freed := e.CollectGarbage()
	fmt.Printf("freed %d blocks\n", freed)
	return nil
}

// open reopens an already-initialized engine at path, preserving its
// existing on-disk capacity; a path with no backing file yet falls back to
// a 64 MiB default.
func open(path string) (*covstore.Engine, error) {
	sizeMB := 64
	if fi, err := os.Stat(path); err == nil {
		sizeMB = int((fi.Size() + 1024*1024 - 1) / (1024 * 1024))
	}
	return covstore.Init(path, sizeMB)
}
