package sequence

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewStaticSortsGlob(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"frame_002.tif", "frame_000.tif", "frame_001.tif"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	seq, err := NewStatic(filepath.Join(dir, "frame_*.tif"))
	if err != nil {
		t.Fatalf("NewStatic failed: %v", err)
	}
	if filepath.Base(seq.Reference()) != "frame_000.tif" {
		t.Fatalf("expected frame_000.tif as reference, got %s", seq.Reference())
	}
	def := seq.Deformed()
	if len(def) != 2 {
		t.Fatalf("expected 2 deformed frames, got %d", len(def))
	}
	if filepath.Base(def[0]) != "frame_001.tif" || filepath.Base(def[1]) != "frame_002.tif" {
		t.Fatalf("deformed frames out of order: %v", def)
	}
	if seq.NumFrames() != 2 {
		t.Fatalf("expected 2 frames, got %d", seq.NumFrames())
	}
}

func TestNewStaticRequiresTwoImages(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "only.tif"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewStatic(filepath.Join(dir, "*.tif")); err == nil {
		t.Fatalf("expected error for a single-image sequence")
	}
	if _, err := NewStatic(filepath.Join(dir, "*.png")); err == nil {
		t.Fatalf("expected error for an empty match")
	}
}

func TestFromPaths(t *testing.T) {
	seq, err := FromPaths([]string{"a.tif", "b.tif", "c.tif"})
	if err != nil {
		t.Fatalf("FromPaths failed: %v", err)
	}
	if seq.Reference() != "a.tif" {
		t.Fatalf("expected a.tif as reference, got %s", seq.Reference())
	}
	if seq.NumFrames() != 2 {
		t.Fatalf("expected 2 frames, got %d", seq.NumFrames())
	}

	if _, err := FromPaths([]string{"a.tif"}); err == nil {
		t.Fatalf("expected error for too few paths")
	}
}
