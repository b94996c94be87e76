package storage

import (
	"strings"
	"testing"

	"dicengine/internal/config"
	"dicengine/internal/engine"
	"dicengine/internal/field"
)

func TestReportDefaultColumns(t *testing.T) {
	r, err := NewReport(config.DefaultParams(), nil)
	if err != nil {
		t.Fatalf("NewReport failed: %v", err)
	}
	want := []string{
		"COORDINATE_X", "COORDINATE_Y", "DISPLACEMENT_X", "DISPLACEMENT_Y",
		"ROTATION_Z", "SIGMA", "GAMMA", "STATUS_FLAG",
	}
	got := r.Columns()
	if len(got) != len(want) {
		t.Fatalf("expected %d columns, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("column %d expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestReportSpecOrdering(t *testing.T) {
	p := config.DefaultParams()
	p.OutputSpec = map[string]int{
		"SIGMA":        2,
		"COORDINATE_X": 0,
		"GAMMA":        1,
	}
	r, err := NewReport(p, nil)
	if err != nil {
		t.Fatalf("NewReport failed: %v", err)
	}
	got := r.Columns()
	want := []string{"COORDINATE_X", "GAMMA", "SIGMA"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("column %d expected %s, got %v", i, want[i], got)
		}
	}
}

func TestReportSpecValidation(t *testing.T) {
	cases := []struct {
		name string
		spec map[string]int
		frag string
	}{
		{"negative index", map[string]int{"SIGMA": -1}, "negative index"},
		{"index out of range", map[string]int{"SIGMA": 0, "GAMMA": 2}, "out of range"},
		{"unknown field", map[string]int{"WIBBLE": 0}, "unknown field name"},
	}
	for _, tc := range cases {
		p := config.DefaultParams()
		p.OutputSpec = tc.spec
		_, err := NewReport(p, nil)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.frag) {
			t.Fatalf("%s: unexpected error message: %v", tc.name, err)
		}
	}
}

func TestReportSpecDuplicateIndex(t *testing.T) {
	p := config.DefaultParams()
	p.OutputSpec = map[string]int{"SIGMA": 0, "GAMMA": 0}
	_, err := NewReport(p, nil)
	if err == nil {
		t.Fatalf("expected error for duplicate index")
	}
	msg := err.Error()
	if !strings.Contains(msg, "share index") {
		t.Fatalf("unexpected error message: %v", err)
	}
	if !strings.Contains(msg, "SIGMA") || !strings.Contains(msg, "GAMMA") {
		t.Fatalf("duplicate error must name both fields: %v", err)
	}
}

func TestReportWriteFrame(t *testing.T) {
	p := config.DefaultParams()
	p.OutputSpec = map[string]int{"COORDINATE_X": 0, "DISPLACEMENT_X": 1}
	r, err := NewReport(p, nil)
	if err != nil {
		t.Fatalf("NewReport failed: %v", err)
	}

	fields, err := field.NewStore(2)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	fields.SetValue(0, field.CoordinateX, 10)
	fields.SetValue(0, field.DisplacementX, 0.5)
	fields.SetValue(1, field.CoordinateX, 20)
	fields.SetValue(1, field.DisplacementX, -1.25)

	var buf strings.Builder
	if err := r.WriteHeader(&buf, "run-1", "ref.tif"); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if err := r.WriteFrame(&buf, 3, fields); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	header := lines[len(lines)-3]
	if header != "SUBSET_ID FRAME COORDINATE_X DISPLACEMENT_X" {
		t.Fatalf("unexpected header row: %q", header)
	}
	row0 := strings.Fields(lines[len(lines)-2])
	if len(row0) != 4 || row0[0] != "0" || row0[1] != "3" {
		t.Fatalf("unexpected first record: %v", row0)
	}
	if row0[2] != "1.000000e+01" || row0[3] != "5.000000e-01" {
		t.Fatalf("unexpected values in first record: %v", row0)
	}
	row1 := strings.Fields(lines[len(lines)-1])
	if row1[0] != "1" || row1[3] != "-1.250000e+00" {
		t.Fatalf("unexpected second record: %v", row1)
	}
}

func TestReportOmitRowID(t *testing.T) {
	p := config.DefaultParams()
	p.OmitOutputRowID = true
	p.OutputSpec = map[string]int{"SIGMA": 0}
	r, err := NewReport(p, nil)
	if err != nil {
		t.Fatalf("NewReport failed: %v", err)
	}

	fields, err := field.NewStore(1)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	fields.SetValue(0, field.Sigma, 0.01)

	var buf strings.Builder
	if err := r.WriteHeader(&buf, "run-1", "ref.tif"); err != nil {
		t.Fatalf("WriteHeader failed: %v", err)
	}
	if err := r.WriteFrame(&buf, 0, fields); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[len(lines)-2] != "FRAME SIGMA" {
		t.Fatalf("unexpected header row: %q", lines[len(lines)-2])
	}
	if fieldsOf := strings.Fields(lines[len(lines)-1]); len(fieldsOf) != 2 || fieldsOf[0] != "0" {
		t.Fatalf("unexpected record: %q", lines[len(lines)-1])
	}
}

func TestReportPostProcessorColumns(t *testing.T) {
	p := config.DefaultParams()
	p.OutputSpec = map[string]int{"COORDINATE_X": 0, "VSG_STRAIN_XX": 1}
	post := &stubPost{fields: map[string]float64{"VSG_STRAIN_XX": 0.002}}
	r, err := NewReport(p, []engine.PostProcessor{post})
	if err != nil {
		t.Fatalf("NewReport failed: %v", err)
	}

	fields, err := field.NewStore(1)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	var buf strings.Builder
	if err := r.WriteFrame(&buf, 0, fields); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	row := strings.Fields(strings.TrimSpace(buf.String()))
	if row[len(row)-1] != "2.000000e-03" {
		t.Fatalf("expected post-processor value in last column, got %v", row)
	}
}

// Stubs

type stubPost struct {
	fields map[string]float64
}

func (s *stubPost) Name() string { return "stub" }

func (s *stubPost) FieldNames() []string {
	out := make([]string, 0, len(s.fields))
	for k := range s.fields {
		out = append(out, k)
	}
	return out
}

func (s *stubPost) Initialize(e *engine.Engine) error { return nil }
func (s *stubPost) PreExecutionTasks() error          { return nil }
func (s *stubPost) Execute() error                    { return nil }

func (s *stubPost) FieldValue(id int, name string) (float64, bool) {
	v, ok := s.fields[name]
	return v, ok
}
