package pnnx

import (
	"archive/zip"
	"bytes"
	"io"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/simpleinfer/simpleinfer/internal/ir"
)

// LoadOptions configures model loading behavior.
type LoadOptions struct {
	// Expand rewrites pnnx.Expression operators into BinaryOp chains right
	// after parsing (default: true).
	Expand bool

	// Mmap reads the weight archive through a read-only memory mapping
	// instead of buffered file reads (default: true).
	Mmap bool
}

// DefaultLoadOptions returns default loading options.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{Expand: true, Mmap: true}
}

// Loader reads a param file and its zip weight archive. It implements
// ir.Loader.
type Loader struct {
	opts LoadOptions
}

var _ ir.Loader = (*Loader)(nil)

// NewLoader creates a loader. Without options DefaultLoadOptions is used.
func NewLoader(opts ...LoadOptions) *Loader {
	opt := DefaultLoadOptions()
	if len(opts) > 0 {
		opt = opts[0]
	}
	return &Loader{opts: opt}
}

// Load parses paramPath, reading attribute data from the archive at binPath.
func (l *Loader) Load(paramPath, binPath string) (*ir.Graph, error) {
	var zr *zip.Reader
	if l.opts.Mmap {
		m, err := openMapped(binPath)
		if err != nil {
			return nil, errors.Wrapf(err, "map weight archive %s", binPath)
		}
		defer m.Close()

		zr, err = zip.NewReader(bytes.NewReader(m.data), int64(len(m.data)))
		if err != nil {
			return nil, errors.Wrapf(err, "open weight archive %s", binPath)
		}
	} else {
		rc, err := zip.OpenReader(binPath)
		if err != nil {
			return nil, errors.Wrapf(err, "open weight archive %s", binPath)
		}
		defer rc.Close()
		zr = &rc.Reader
	}

	g, err := ParseFile(paramPath, ZipWeights(zr))
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", paramPath)
	}
	klog.V(1).Infof("pnnx: loaded %s: %d operators, %d operands", paramPath, len(g.Operators), len(g.Operands))

	if l.opts.Expand {
		if err := ExpandExpressions(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// ZipWeights serves attribute data from the entries of a zip archive.
func ZipWeights(zr *zip.Reader) WeightFunc {
	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
	}

	return func(key string) ([]byte, error) {
		f, ok := entries[key]
		if !ok {
			return nil, errors.Errorf("weight entry %q not found", key)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "open weight entry %q", key)
		}
		defer rc.Close()

		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, errors.Wrapf(err, "read weight entry %q", key)
		}
		return data, nil
	}
}
