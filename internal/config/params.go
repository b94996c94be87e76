package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// OptimizationMethod selects the solver(s) used by the per-point pipeline.
type OptimizationMethod int

const (
	GradientBased OptimizationMethod = iota
	Simplex
	GradientBasedThenSimplex
	SimplexThenGradientBased
)

func (m OptimizationMethod) String() string {
	switch m {
	case GradientBased:
		return "GRADIENT_BASED"
	case Simplex:
		return "SIMPLEX"
	case GradientBasedThenSimplex:
		return "GRADIENT_BASED_THEN_SIMPLEX"
	case SimplexThenGradientBased:
		return "SIMPLEX_THEN_GRADIENT_BASED"
	}
	return fmt.Sprintf("OPTIMIZATION_METHOD(%d)", int(m))
}

// InitializationMethod selects how a point's initial guess is derived.
type InitializationMethod int

const (
	UseFieldValues InitializationMethod = iota
	UseNeighborValues
	UseNeighborValuesFirstStepOnly
	UsePhaseCorrelation
)

func (m InitializationMethod) String() string {
	switch m {
	case UseFieldValues:
		return "USE_FIELD_VALUES"
	case UseNeighborValues:
		return "USE_NEIGHBOR_VALUES"
	case UseNeighborValuesFirstStepOnly:
		return "USE_NEIGHBOR_VALUES_FIRST_STEP_ONLY"
	case UsePhaseCorrelation:
		return "USE_PHASE_CORRELATION"
	}
	return fmt.Sprintf("INITIALIZATION_METHOD(%d)", int(m))
}

// CorrelationRoutine selects objective allocation: fresh per frame (generic)
// or persistent across frames (tracking).
type CorrelationRoutine int

const (
	GenericRoutine CorrelationRoutine = iota
	TrackingRoutine
)

func (r CorrelationRoutine) String() string {
	if r == TrackingRoutine {
		return "TRACKING_ROUTINE"
	}
	return "GENERIC_ROUTINE"
}

// ProjectionMethod selects how a point's position is projected forward.
type ProjectionMethod int

const (
	DisplacementBased ProjectionMethod = iota
	VelocityBased
)

func (m ProjectionMethod) String() string {
	if m == VelocityBased {
		return "VELOCITY_BASED"
	}
	return "DISPLACEMENT_BASED"
}

// Params is the flat correlation parameter set. Thresholds set to -1 are
// disabled.
type Params struct {
	OptimizationMethod   OptimizationMethod
	InitializationMethod InitializationMethod
	CorrelationRoutine   CorrelationRoutine
	ProjectionMethod     ProjectionMethod
	InterpolationMethod  string

	MaxSolverIterationsFast   int
	FastSolverTolerance       float64
	MaxSolverIterationsRobust int
	RobustSolverTolerance     float64
	RobustDeltaDisp           float64
	RobustDeltaTheta          float64
	MaxEvolutionIterations    int

	InitialGammaThreshold   float64
	FinalGammaThreshold     float64
	PathDistanceThreshold   float64
	SkipSolveGammaThreshold float64

	DispJumpTol  float64
	ThetaJumpTol float64

	EnableTranslation  bool
	EnableRotation     bool
	EnableNormalStrain bool
	EnableShearStrain  bool

	UseSubsetEvolution                  bool
	NormalizeGammaWithActivePixels      bool
	UpdateObstructedPixelsEachIteration bool
	ObstructionSkinFactor               float64
	ObstructionBufferSize               int
	PixelIntegrationOrder               int

	GaussFilterImages   bool
	ComputeRefGradients bool
	ComputeDefGradients bool

	RotateRefImage Rotation
	RotateDefImage Rotation

	OutputDelimiter string
	OmitOutputRowID bool
	// OutputSpec maps report field names to column indices; empty selects
	// the default column set.
	OutputSpec map[string]int

	// PostProcessVSGStrain enables the VSG strain post-processor when
	// non-nil; the map carries its sub-parameters (strain_window_size).
	PostProcessVSGStrain map[string]any
}

// Rotation is a fixed image rotation applied at load.
type Rotation int

const (
	ZeroDegrees Rotation = iota
	NinetyDegrees
	OneEightyDegrees
	TwoSeventyDegrees
)

// validParams enumerates every accepted correlation parameter key. Unknown
// keys in a parameter file are a fatal configuration error.
var validParams = []string{
	"use_tracking_default_params",
	"optimization_method",
	"initialization_method",
	"correlation_routine",
	"projection_method",
	"interpolation_method",
	"max_solver_iterations_fast",
	"fast_solver_tolerance",
	"max_solver_iterations_robust",
	"robust_solver_tolerance",
	"robust_delta_disp",
	"robust_delta_theta",
	"max_evolution_iterations",
	"initial_gamma_threshold",
	"final_gamma_threshold",
	"path_distance_threshold",
	"skip_solve_gamma_threshold",
	"disp_jump_tol",
	"theta_jump_tol",
	"enable_translation",
	"enable_rotation",
	"enable_normal_strain",
	"enable_shear_strain",
	"use_subset_evolution",
	"normalize_gamma_with_active_pixels",
	"update_obstructed_pixels_each_iteration",
	"obstruction_skin_factor",
	"obstruction_buffer_size",
	"pixel_integration_order",
	"gauss_filter_images",
	"compute_ref_gradients",
	"compute_def_gradients",
	"compute_image_gradients",
	"rotate_ref_image_90",
	"rotate_ref_image_180",
	"rotate_ref_image_270",
	"rotate_def_image_90",
	"rotate_def_image_180",
	"rotate_def_image_270",
	"output_delimiter",
	"omit_output_row_id",
	"output_spec",
	"post_process_vsg_strain",
}

// ValidParams returns the accepted correlation parameter keys, sorted, for
// diagnostics.
func ValidParams() []string {
	out := append([]string(nil), validParams...)
	sort.Strings(out)
	return out
}

// DefaultParams returns the full-field defaults.
func DefaultParams() *Params {
	return &Params{
		OptimizationMethod:        GradientBased,
		InitializationMethod:      UseFieldValues,
		CorrelationRoutine:        GenericRoutine,
		ProjectionMethod:          DisplacementBased,
		InterpolationMethod:       "BILINEAR",
		MaxSolverIterationsFast:   250,
		FastSolverTolerance:       1e-4,
		MaxSolverIterationsRobust: 1000,
		RobustSolverTolerance:     1e-6,
		RobustDeltaDisp:           1.0,
		RobustDeltaTheta:          0.1,
		MaxEvolutionIterations:    10,
		InitialGammaThreshold:     -1.0,
		FinalGammaThreshold:       -1.0,
		PathDistanceThreshold:     -1.0,
		SkipSolveGammaThreshold:   -1.0,
		DispJumpTol:               -1.0,
		ThetaJumpTol:              -1.0,
		EnableTranslation:         true,
		EnableRotation:            true,
		EnableNormalStrain:        false,
		EnableShearStrain:         false,
		ObstructionSkinFactor:     1.0,
		ObstructionBufferSize:     3,
		PixelIntegrationOrder:     1,
		OutputDelimiter:           " ",
	}
}

// TrackingDefaults returns the defaults for object-tracking runs: a handful
// of subsets followed across many frames.
func TrackingDefaults() *Params {
	p := DefaultParams()
	p.OptimizationMethod = SimplexThenGradientBased
	p.CorrelationRoutine = TrackingRoutine
	p.ProjectionMethod = VelocityBased
	p.EnableRotation = true
	p.EnableNormalStrain = true
	p.EnableShearStrain = true
	p.UseSubsetEvolution = true
	return p
}

// LoadParams reads a YAML parameter file and applies it over the defaults.
// Unknown keys are fatal; the error message carries the valid key set.
func LoadParams(path string) (*Params, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var kv map[string]any
	if err := yaml.Unmarshal(raw, &kv); err != nil {
		return nil, fmt.Errorf("parse parameter file %s: %w", path, err)
	}
	return ApplyParams(kv)
}

// ApplyParams validates the key/value set and applies it over the defaults
// (tracking defaults when use_tracking_default_params is set).
func ApplyParams(kv map[string]any) (*Params, error) {
	known := make(map[string]bool, len(validParams))
	for _, k := range validParams {
		known[k] = true
	}
	var invalid []string
	for k := range kv {
		if !known[k] {
			invalid = append(invalid, k)
		}
	}
	if len(invalid) > 0 {
		sort.Strings(invalid)
		return nil, fmt.Errorf("invalid parameter(s) %s; valid parameters are: %s",
			strings.Join(invalid, ", "), strings.Join(ValidParams(), ", "))
	}

	p := DefaultParams()
	if b, _ := kv["use_tracking_default_params"].(bool); b {
		p = TrackingDefaults()
	}

	var err error
	if v, ok := kv["optimization_method"]; ok {
		if p.OptimizationMethod, err = parseOptimization(v); err != nil {
			return nil, err
		}
	}
	if v, ok := kv["initialization_method"]; ok {
		if p.InitializationMethod, err = parseInitialization(v); err != nil {
			return nil, err
		}
	}
	if v, ok := kv["correlation_routine"]; ok {
		if p.CorrelationRoutine, err = parseRoutine(v); err != nil {
			return nil, err
		}
	}
	if v, ok := kv["projection_method"]; ok {
		if p.ProjectionMethod, err = parseProjection(v); err != nil {
			return nil, err
		}
	}
	if v, ok := kv["interpolation_method"]; ok {
		p.InterpolationMethod = strings.ToUpper(fmt.Sprint(v))
	}

	setInt(kv, "max_solver_iterations_fast", &p.MaxSolverIterationsFast)
	setFloat(kv, "fast_solver_tolerance", &p.FastSolverTolerance)
	setInt(kv, "max_solver_iterations_robust", &p.MaxSolverIterationsRobust)
	setFloat(kv, "robust_solver_tolerance", &p.RobustSolverTolerance)
	setFloat(kv, "robust_delta_disp", &p.RobustDeltaDisp)
	setFloat(kv, "robust_delta_theta", &p.RobustDeltaTheta)
	setInt(kv, "max_evolution_iterations", &p.MaxEvolutionIterations)
	setFloat(kv, "initial_gamma_threshold", &p.InitialGammaThreshold)
	setFloat(kv, "final_gamma_threshold", &p.FinalGammaThreshold)
	setFloat(kv, "path_distance_threshold", &p.PathDistanceThreshold)
	setFloat(kv, "skip_solve_gamma_threshold", &p.SkipSolveGammaThreshold)
	setFloat(kv, "disp_jump_tol", &p.DispJumpTol)
	setFloat(kv, "theta_jump_tol", &p.ThetaJumpTol)
	setBool(kv, "enable_translation", &p.EnableTranslation)
	setBool(kv, "enable_rotation", &p.EnableRotation)
	setBool(kv, "enable_normal_strain", &p.EnableNormalStrain)
	setBool(kv, "enable_shear_strain", &p.EnableShearStrain)
	setBool(kv, "use_subset_evolution", &p.UseSubsetEvolution)
	setBool(kv, "normalize_gamma_with_active_pixels", &p.NormalizeGammaWithActivePixels)
	setBool(kv, "update_obstructed_pixels_each_iteration", &p.UpdateObstructedPixelsEachIteration)
	setFloat(kv, "obstruction_skin_factor", &p.ObstructionSkinFactor)
	setInt(kv, "obstruction_buffer_size", &p.ObstructionBufferSize)
	setInt(kv, "pixel_integration_order", &p.PixelIntegrationOrder)
	setBool(kv, "gauss_filter_images", &p.GaussFilterImages)
	setBool(kv, "compute_ref_gradients", &p.ComputeRefGradients)
	setBool(kv, "compute_def_gradients", &p.ComputeDefGradients)
	if b, _ := kv["compute_image_gradients"].(bool); b {
		p.ComputeRefGradients = true
		p.ComputeDefGradients = true
	}
	// Any gradient-based optimization requires reference gradients.
	if p.OptimizationMethod != Simplex {
		p.ComputeRefGradients = true
	}

	// Last rotation flag read wins.
	if b, _ := kv["rotate_ref_image_90"].(bool); b {
		p.RotateRefImage = NinetyDegrees
	}
	if b, _ := kv["rotate_ref_image_180"].(bool); b {
		p.RotateRefImage = OneEightyDegrees
	}
	if b, _ := kv["rotate_ref_image_270"].(bool); b {
		p.RotateRefImage = TwoSeventyDegrees
	}
	if b, _ := kv["rotate_def_image_90"].(bool); b {
		p.RotateDefImage = NinetyDegrees
	}
	if b, _ := kv["rotate_def_image_180"].(bool); b {
		p.RotateDefImage = OneEightyDegrees
	}
	if b, _ := kv["rotate_def_image_270"].(bool); b {
		p.RotateDefImage = TwoSeventyDegrees
	}

	if v, ok := kv["output_delimiter"]; ok {
		p.OutputDelimiter = fmt.Sprint(v)
	}
	setBool(kv, "omit_output_row_id", &p.OmitOutputRowID)

	if v, ok := kv["output_spec"]; ok {
		spec, err := toStringIntMap(v)
		if err != nil {
			return nil, fmt.Errorf("output_spec: %w", err)
		}
		p.OutputSpec = spec
	}
	if v, ok := kv["post_process_vsg_strain"]; ok {
		sub, err := toStringMap(v)
		if err != nil {
			return nil, fmt.Errorf("post_process_vsg_strain: %w", err)
		}
		p.PostProcessVSGStrain = sub
	}
	return p, nil
}

func parseOptimization(v any) (OptimizationMethod, error) {
	switch strings.ToUpper(fmt.Sprint(v)) {
	case "GRADIENT_BASED":
		return GradientBased, nil
	case "SIMPLEX":
		return Simplex, nil
	case "GRADIENT_BASED_THEN_SIMPLEX":
		return GradientBasedThenSimplex, nil
	case "SIMPLEX_THEN_GRADIENT_BASED":
		return SimplexThenGradientBased, nil
	}
	return 0, fmt.Errorf("unrecognized optimization_method %q", v)
}

func parseInitialization(v any) (InitializationMethod, error) {
	switch strings.ToUpper(fmt.Sprint(v)) {
	case "USE_FIELD_VALUES":
		return UseFieldValues, nil
	case "USE_NEIGHBOR_VALUES":
		return UseNeighborValues, nil
	case "USE_NEIGHBOR_VALUES_FIRST_STEP_ONLY":
		return UseNeighborValuesFirstStepOnly, nil
	case "USE_PHASE_CORRELATION":
		return UsePhaseCorrelation, nil
	}
	return 0, fmt.Errorf("unrecognized initialization_method %q", v)
}

func parseRoutine(v any) (CorrelationRoutine, error) {
	switch strings.ToUpper(fmt.Sprint(v)) {
	case "GENERIC_ROUTINE":
		return GenericRoutine, nil
	case "TRACKING_ROUTINE":
		return TrackingRoutine, nil
	}
	return 0, fmt.Errorf("unrecognized correlation_routine %q", v)
}

func parseProjection(v any) (ProjectionMethod, error) {
	switch strings.ToUpper(fmt.Sprint(v)) {
	case "DISPLACEMENT_BASED":
		return DisplacementBased, nil
	case "VELOCITY_BASED":
		return VelocityBased, nil
	}
	return 0, fmt.Errorf("unrecognized projection_method %q", v)
}

func setInt(kv map[string]any, key string, dst *int) {
	if v, ok := kv[key]; ok {
		switch n := v.(type) {
		case int:
			*dst = n
		case float64:
			*dst = int(n)
		}
	}
}

func setFloat(kv map[string]any, key string, dst *float64) {
	if v, ok := kv[key]; ok {
		switch n := v.(type) {
		case float64:
			*dst = n
		case int:
			*dst = float64(n)
		}
	}
}

func setBool(kv map[string]any, key string, dst *bool) {
	if v, ok := kv[key]; ok {
		if b, ok := v.(bool); ok {
			*dst = b
		}
	}
}

func toStringMap(v any) (map[string]any, error) {
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a mapping, got %T", v)
}

func toStringIntMap(v any) (map[string]int, error) {
	m, err := toStringMap(v)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(m))
	for k, val := range m {
		switch n := val.(type) {
		case int:
			out[k] = n
		case float64:
			out[k] = int(n)
		default:
			return nil, fmt.Errorf("field %q has non-integer index %v", k, val)
		}
	}
	return out, nil
}
