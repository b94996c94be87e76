package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RunDef is the per-point run definition: where the tracked subsets are and
// which per-point behaviors apply to each of them.
type RunDef struct {
	// SubsetSize is the square subset edge length in pixels.
	SubsetSize int `yaml:"subset_size"`

	// Grid layout: points are placed on a regular grid inside the image,
	// inset one subset size from every edge. Ignored when Points is set.
	StepSizeX int `yaml:"step_size_x"`
	StepSizeY int `yaml:"step_size_y"`

	// Points lists explicit subset centroids; overrides the grid.
	Points []PointDef `yaml:"points"`

	// NeighborIDs gives each point its seed neighbor; -1 marks a seed.
	// Empty means no seed dependencies.
	NeighborIDs []int `yaml:"neighbor_ids"`

	// Obstructions maps a blocked point id to the ids that occlude it.
	Obstructions map[int][]int `yaml:"obstructions"`

	// MotionWindows keys motion gate windows by point id.
	MotionWindows map[int]MotionWindowDef `yaml:"motion_windows"`

	// PathFiles keys expected-trajectory files by point id.
	PathFiles map[int]string `yaml:"path_files"`

	// SkipSolve lists point ids whose optimization is skipped (guess only).
	SkipSolve []int `yaml:"skip_solve"`
}

// PointDef is one explicit subset centroid.
type PointDef struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

// MotionWindowDef defines a motion-detection window. UseSubsetID borrows
// another point's window instead of defining one (-1 means own window).
type MotionWindowDef struct {
	OriginX     int     `yaml:"origin_x"`
	OriginY     int     `yaml:"origin_y"`
	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	Tol         float64 `yaml:"tol"`
	UseSubsetID int     `yaml:"use_subset_id"`
}

// UnmarshalYAML defaults UseSubsetID to -1 (own window) when the key is
// absent; 0 is a valid point id to borrow from.
func (m *MotionWindowDef) UnmarshalYAML(value *yaml.Node) error {
	type raw MotionWindowDef
	r := raw{UseSubsetID: -1}
	if err := value.Decode(&r); err != nil {
		return err
	}
	*m = MotionWindowDef(r)
	return nil
}

// LoadRunDef reads and validates a YAML run definition.
func LoadRunDef(path string) (*RunDef, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rd := &RunDef{}
	if err := yaml.Unmarshal(raw, rd); err != nil {
		return nil, fmt.Errorf("parse run definition %s: %w", path, err)
	}
	if err := rd.Validate(); err != nil {
		return nil, fmt.Errorf("run definition %s: %w", path, err)
	}
	return rd, nil
}

// Validate rejects malformed definitions before any allocation happens.
func (rd *RunDef) Validate() error {
	if rd.SubsetSize <= 0 {
		return fmt.Errorf("subset_size must be positive, got %d", rd.SubsetSize)
	}
	if len(rd.Points) == 0 {
		if rd.StepSizeX <= 0 || rd.StepSizeY <= 0 {
			return fmt.Errorf("step sizes must be positive when no explicit points are given (x %d, y %d)",
				rd.StepSizeX, rd.StepSizeY)
		}
	}
	if len(rd.NeighborIDs) > 0 && len(rd.Points) > 0 && len(rd.NeighborIDs) != len(rd.Points) {
		return fmt.Errorf("neighbor_ids has %d entries for %d points", len(rd.NeighborIDs), len(rd.Points))
	}
	return nil
}

// GridPoints expands the grid layout for an image of the given size. The
// grid is inset one subset size from every edge, mirroring how control
// points are laid out over a full-field image.
func (rd *RunDef) GridPoints(imgWidth, imgHeight int) ([]PointDef, error) {
	if len(rd.Points) > 0 {
		return rd.Points, nil
	}
	trimmedW := imgWidth - 2*rd.SubsetSize
	trimmedH := imgHeight - 2*rd.SubsetSize
	numX := trimmedW/rd.StepSizeX + 1
	numY := trimmedH/rd.StepSizeY + 1
	if numX <= 0 || numY <= 0 {
		return nil, fmt.Errorf("image %dx%d too small for subset size %d with steps (%d,%d)",
			imgWidth, imgHeight, rd.SubsetSize, rd.StepSizeX, rd.StepSizeY)
	}
	pts := make([]PointDef, 0, numX*numY)
	for i := 0; i < numX*numY; i++ {
		yIt := i / numX
		xIt := i - yIt*numX
		pts = append(pts, PointDef{
			X: rd.SubsetSize + xIt*rd.StepSizeX - 1,
			Y: rd.SubsetSize + yIt*rd.StepSizeY - 1,
		})
	}
	return pts, nil
}
