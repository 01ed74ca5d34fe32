//go:build unix

package pnnx

import (
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile maps the bin archive read-only. Entries are copied out in one
// forward pass over the central directory, so the pages are hinted as
// sequential.
func mmapFile(f *os.File, size int64) ([]byte, error) {
	fd := int(f.Fd()) //nolint:gosec // G115: descriptors fit in int
	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	_ = unix.Madvise(data, unix.MADV_SEQUENTIAL) // advisory only
	return data, nil
}

func munmapFile(data []byte) error {
	return unix.Munmap(data)
}
