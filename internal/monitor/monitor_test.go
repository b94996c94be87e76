package monitor

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"dicengine/internal/engine"
)

func testServer() *Server {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(log, 0, "run-1")
}

func TestStatusEndpoint(t *testing.T) {
	s := testServer()
	s.OnFrameComplete(engine.FrameSummary{
		Frame:        0,
		NumPoints:    4,
		StatusCounts: map[string]int{"INITIALIZE_SUCCESSFUL": 4},
	})
	s.OnFrameComplete(engine.FrameSummary{
		Frame:        1,
		NumPoints:    4,
		StatusCounts: map[string]int{"INITIALIZE_SUCCESSFUL": 3, "CORRELATION_FAILED": 1},
	})

	rec := httptest.NewRecorder()
	s.handleStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status RunStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.RunID != "run-1" {
		t.Fatalf("expected run-1, got %s", status.RunID)
	}
	if status.FramesComplete != 2 {
		t.Fatalf("expected 2 frames complete, got %d", status.FramesComplete)
	}
	if status.Latest == nil || status.Latest.Frame != 1 {
		t.Fatalf("expected latest frame 1, got %+v", status.Latest)
	}
	if status.Latest.StatusCounts["CORRELATION_FAILED"] != 1 {
		t.Fatalf("unexpected latest status counts: %v", status.Latest.StatusCounts)
	}
}

func TestFramesEndpoint(t *testing.T) {
	s := testServer()

	rec := httptest.NewRecorder()
	s.handleFrames(rec, httptest.NewRequest(http.MethodGet, "/api/frames", nil))
	var empty []engine.FrameSummary
	if err := json.NewDecoder(rec.Body).Decode(&empty); err != nil {
		t.Fatalf("decode frames: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no frames before any completion, got %d", len(empty))
	}

	for i := 0; i < 3; i++ {
		s.OnFrameComplete(engine.FrameSummary{Frame: i, NumPoints: 1})
	}
	rec = httptest.NewRecorder()
	s.handleFrames(rec, httptest.NewRequest(http.MethodGet, "/api/frames", nil))
	var frames []engine.FrameSummary
	if err := json.NewDecoder(rec.Body).Decode(&frames); err != nil {
		t.Fatalf("decode frames: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("expected 3 frames, got %d", len(frames))
	}
	if frames[2].Frame != 2 {
		t.Fatalf("frames out of order: %+v", frames)
	}
}

func TestBroadcastBufferNeverBlocks(t *testing.T) {
	s := testServer()
	// No hub consumer is running; filling past the buffer must drop, not hang.
	for i := 0; i < 64; i++ {
		s.OnFrameComplete(engine.FrameSummary{Frame: i, NumPoints: 1})
	}
	if len(s.frames) != 64 {
		t.Fatalf("every summary must still be recorded, got %d", len(s.frames))
	}
}
