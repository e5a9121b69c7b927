// Package storage manages the local staging files of downloads: the partial
// file of a single-file transfer and the chunk directory of a chunked one.
package storage

import (
	"fmt"
	"path/filepath"
)

const (
	// PartSuffix is appended to the destination for the partial file.
	PartSuffix = ".part"

	// ChunkDirSuffix is appended to the destination for the chunk directory.
	ChunkDirSuffix = ".chunks"
)

// PartPath returns the partial file of a destination.
//
//	dest:   "/data/report.csv"
//	result: "/data/report.csv.part"
func PartPath(dest string) string {
	return dest + PartSuffix
}

// ChunkDir returns the chunk directory of a destination.
func ChunkDir(dest string) string {
	return dest + ChunkDirSuffix
}

// ChunkPath returns the file of chunk i inside dir. Names are zero padded so
// a directory listing sorts in merge order.
//
//	dir:    "/data/report.csv.chunks"
//	i:      7
//	result: "/data/report.csv.chunks/chunk-00007"
func ChunkPath(dir string, i int) string {
	return filepath.Join(dir, fmt.Sprintf("chunk-%05d", i))
}
