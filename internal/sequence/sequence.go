// Package sequence supplies the ordered image paths of a correlation run:
// either a static glob over existing files or a live directory watch for
// frames arriving during acquisition.
package sequence

import (
	"fmt"
	"path/filepath"
	"sort"
)

// Static is a fixed, sorted list of image paths. The first path is the
// reference image; the rest are deformed frames in order.
type Static struct {
	paths []string
}

// NewStatic expands a glob pattern into a sorted sequence. At least two
// images (reference plus one deformed frame) are required.
func NewStatic(pattern string) (*Static, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("sequence: bad pattern %q: %w", pattern, err)
	}
	if len(paths) < 2 {
		return nil, fmt.Errorf("sequence: pattern %q matched %d images, need at least 2", pattern, len(paths))
	}
	sort.Strings(paths)
	return &Static{paths: paths}, nil
}

// FromPaths builds a sequence from explicit paths, preserving order.
func FromPaths(paths []string) (*Static, error) {
	if len(paths) < 2 {
		return nil, fmt.Errorf("sequence: %d images given, need at least 2", len(paths))
	}
	return &Static{paths: append([]string(nil), paths...)}, nil
}

// Reference returns the reference image path.
func (s *Static) Reference() string { return s.paths[0] }

// Deformed returns the deformed frame paths in order.
func (s *Static) Deformed() []string { return s.paths[1:] }

// NumFrames returns the deformed frame count.
func (s *Static) NumFrames() int { return len(s.paths) - 1 }
