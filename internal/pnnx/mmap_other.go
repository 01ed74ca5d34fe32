//go:build !unix && !windows

package pnnx

import (
	"io"
	"os"
)

// mmapFile reads the file into memory where mapping is unavailable.
func mmapFile(f *os.File, size int64) ([]byte, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, err
	}
	return data, nil
}

func munmapFile([]byte) error {
	return nil
}
