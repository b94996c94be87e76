package storage

import (
	"fmt"
	"io"
	"strings"
	"time"

	"dicengine/internal/config"
	"dicengine/internal/engine"
	"dicengine/internal/field"
)

// defaultReportColumns is the column set used when no output spec is given.
var defaultReportColumns = []string{
	"COORDINATE_X",
	"COORDINATE_Y",
	"DISPLACEMENT_X",
	"DISPLACEMENT_Y",
	"ROTATION_Z",
	"SIGMA",
	"GAMMA",
	"STATUS_FLAG",
}

// Report writes the per-frame text results: one record per point, columns
// selected by the configured output spec. Column values come from the core
// fields or from post-processor output fields.
type Report struct {
	delimiter string
	omitRowID bool
	columns   []string
	core      map[string]field.Name
	posts     []engine.PostProcessor
}

// NewReport validates the output spec and builds a report writer. An
// unknown field name, a duplicate column index, or an index list that is
// not exactly 0..len-1 is a fatal configuration error.
func NewReport(params *config.Params, posts []engine.PostProcessor) (*Report, error) {
	r := &Report{
		delimiter: params.OutputDelimiter,
		omitRowID: params.OmitOutputRowID,
		core:      make(map[string]field.Name),
		posts:     posts,
	}
	if r.delimiter == "" {
		r.delimiter = " "
	}

	if len(params.OutputSpec) == 0 {
		r.columns = append([]string(nil), defaultReportColumns...)
	} else {
		r.columns = make([]string, len(params.OutputSpec))
		seen := make(map[int]string, len(params.OutputSpec))
		maxIndex := -1
		for name, idx := range params.OutputSpec {
			if idx < 0 {
				return nil, fmt.Errorf("output spec: field %q has negative index %d", name, idx)
			}
			if idx >= len(params.OutputSpec) {
				return nil, fmt.Errorf("output spec: field %q index %d out of range for %d fields (indices must be 0..%d)",
					name, idx, len(params.OutputSpec), len(params.OutputSpec)-1)
			}
			if prev, dup := seen[idx]; dup {
				return nil, fmt.Errorf("output spec: fields %q and %q share index %d", prev, name, idx)
			}
			seen[idx] = name
			if idx > maxIndex {
				maxIndex = idx
			}
			r.columns[idx] = strings.ToUpper(name)
		}
		if maxIndex != len(params.OutputSpec)-1 {
			return nil, fmt.Errorf("output spec: max index %d must equal field count minus one (%d)",
				maxIndex, len(params.OutputSpec)-1)
		}
	}

	for _, name := range r.columns {
		if f, err := field.Parse(name); err == nil {
			r.core[name] = f
			continue
		}
		if r.postFor(name) == nil {
			return nil, fmt.Errorf("output spec: unknown field name %q; valid core fields are: %s",
				name, strings.Join(field.Names(), ", "))
		}
	}
	return r, nil
}

// Columns returns the report column names in order.
func (r *Report) Columns() []string { return append([]string(nil), r.columns...) }

// WriteHeader writes the run banner and the column name row.
func (r *Report) WriteHeader(w io.Writer, runID, refImage string) error {
	fmt.Fprintln(w, "***")
	fmt.Fprintf(w, "*** Digital image correlation results\n")
	fmt.Fprintf(w, "*** Run: %s\n", runID)
	fmt.Fprintf(w, "*** Reference image: %s\n", refImage)
	fmt.Fprintf(w, "*** Date: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintln(w, "***")
	cols := r.columns
	if !r.omitRowID {
		cols = append([]string{"SUBSET_ID", "FRAME"}, cols...)
	} else {
		cols = append([]string{"FRAME"}, cols...)
	}
	_, err := fmt.Fprintln(w, strings.Join(cols, r.delimiter))
	return err
}

// WriteFrame writes one record per point from the global field view.
func (r *Report) WriteFrame(w io.Writer, frame int, fields *field.Store) error {
	for id := 0; id < fields.NumPoints(); id++ {
		parts := make([]string, 0, len(r.columns)+2)
		if !r.omitRowID {
			parts = append(parts, fmt.Sprintf("%d", id))
		}
		parts = append(parts, fmt.Sprintf("%d", frame))
		for _, name := range r.columns {
			v, err := r.value(fields, id, name)
			if err != nil {
				return err
			}
			parts = append(parts, fmt.Sprintf("%.6e", v))
		}
		if _, err := fmt.Fprintln(w, strings.Join(parts, r.delimiter)); err != nil {
			return err
		}
	}
	return nil
}

func (r *Report) value(fields *field.Store, id int, name string) (float64, error) {
	if f, ok := r.core[name]; ok {
		return fields.Value(id, f), nil
	}
	if p := r.postFor(name); p != nil {
		if v, ok := p.FieldValue(id, name); ok {
			return v, nil
		}
	}
	return 0, fmt.Errorf("report: no value for field %q point %d", name, id)
}

func (r *Report) postFor(name string) engine.PostProcessor {
	for _, p := range r.posts {
		for _, f := range p.FieldNames() {
			if f == name {
				return p
			}
		}
	}
	return nil
}
