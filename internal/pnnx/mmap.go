package pnnx

import (
	"os"

	"github.com/pkg/errors"
)

// mappedFile is a read-only memory mapping of a whole file.
type mappedFile struct {
	data []byte
}

// openMapped maps the file at path. The mapping outlives the descriptor and
// stays valid until Close.
func openMapped(path string) (*mappedFile, error) {
	//nolint:gosec // G304: model paths come from the caller
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat")
	}
	if stat.Size() == 0 {
		return nil, errors.Errorf("%s is empty", path)
	}

	data, err := mmapFile(f, stat.Size())
	if err != nil {
		return nil, errors.Wrap(err, "mmap")
	}
	return &mappedFile{data: data}, nil
}

// Close unmaps the file.
func (m *mappedFile) Close() error {
	if m.data == nil {
		return nil
	}
	err := munmapFile(m.data)
	m.data = nil
	return err
}
