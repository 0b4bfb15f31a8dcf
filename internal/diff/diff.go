// Package diff implements the block-level comparison at the heart of the
// copy-on-write write path: deciding which logical blocks of a new buffer
// differ from an old one, so only those need a fresh physical block.
package diff

// NumBlocks returns the number of blockSize-sized logical blocks needed to
// hold n bytes (ceil(n/blockSize)).
func NumBlocks(n, blockSize int) int {
	if n == 0 {
		return 0
	}
	return (n + blockSize - 1) / blockSize
}

// Block returns the i-th logical blockSize-sized window of buf, zero-padded
// if buf is too short to fill it. i must be < NumBlocks(len(buf), blockSize).
func Block(buf []byte, i, blockSize int) []byte {
	start := i * blockSize
	end := start + blockSize
	out := make([]byte, blockSize)
	if start >= len(buf) {
		return out
	}
	if end > len(buf) {
		end = len(buf)
	}
	copy(out, buf[start:end])
	return out
}

// Modified returns, in ascending order, the logical block positions at which
// a and b differ. A position beyond the end of one buffer but not the other
// counts as modified; the zero-padding of the last short block is part of
// the comparison. Cost is O(len(a)+len(b)).
func Modified(a, b []byte, blockSize int) []int {
	nA := NumBlocks(len(a), blockSize)
	nB := NumBlocks(len(b), blockSize)
	n := nA
	if nB > n {
		n = nB
	}
	var out []int
	for i := 0; i < n; i++ {
		if (i >= nA) != (i >= nB) {
			out = append(out, i)
			continue
		}
		if !blockEqual(Block(a, i, blockSize), Block(b, i, blockSize)) {
			out = append(out, i)
		}
	}
	return out
}

func blockEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
