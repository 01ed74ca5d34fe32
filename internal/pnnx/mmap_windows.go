//go:build windows

package pnnx

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

// mmapFile maps a read-only view of the whole file. The mapping handle is
// closed right away; the view holds its own reference.
func mmapFile(f *os.File, size int64) ([]byte, error) {
	handle, err := windows.CreateFileMapping(
		windows.Handle(f.Fd()),
		nil,
		windows.PAGE_READONLY,
		uint32(size>>32), //nolint:gosec // G115: high half of the size
		uint32(size),     //nolint:gosec // G115: low half of the size
		nil,
	)
	if err != nil {
		return nil, err
	}
	defer windows.CloseHandle(handle) //nolint:errcheck // the view keeps the mapping alive

	addr, err := windows.MapViewOfFile(handle, windows.FILE_MAP_READ, 0, 0, uintptr(size))
	if err != nil {
		return nil, err
	}
	//nolint:gosec // G103: addr is a live view of exactly size bytes
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size)), nil
}

func munmapFile(data []byte) error {
	//nolint:gosec // G103: data was returned by mmapFile
	return windows.UnmapViewOfFile(uintptr(unsafe.Pointer(unsafe.SliceData(data))))
}
