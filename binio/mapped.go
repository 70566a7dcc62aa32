package binio

import (
	"fmt"

	"github.com/hupe1980/bucketgo/internal/mmap"
)

// OpenMappedInput maps the file at path into memory and returns an Input
// over its full contents, hinted for sequential access. Close releases
// the mapping; the window aliases mapped memory, so nothing read from
// the Input may be retained past Close.
func OpenMappedInput(path string) (*Input, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to map %s: %w", path, err)
	}
	if err := m.Advise(mmap.AccessSequential); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("failed to advise mapping: %w", err)
	}
	in := NewInput(m.Bytes())
	in.closer = m
	return in, nil
}
