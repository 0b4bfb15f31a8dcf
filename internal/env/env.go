// Package env captures details about the covstore environment. Inspect the
// environment using the covstorectl "env" subcommand.
package env

import "os"

// StorageRoot is the storage root directory, taken from COVSTORE_ROOT or
// defaulting to $HOME/.covstore. It is reported by the "env" subcommand;
// no command derives a block file path from it.
var StorageRoot = findStorageRoot()

func findStorageRoot() string {
	if env := os.Getenv("COVSTORE_ROOT"); env != "" {
		return env
	}
	return os.ExpandEnv("$HOME/.covstore") // default
}

// DefaultBlockSize is the block size Init uses for every engine it creates.
const DefaultBlockSize = 4096
