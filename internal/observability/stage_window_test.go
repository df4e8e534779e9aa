package observability

import (
	"testing"
	"time"
)

func TestStageWindowSnapshot(t *testing.T) {
	w := NewStageWindow(8)
	w.Observe(StageSynthesize, 500)
	w.Observe(StageSynthesize, 700)
	w.Observe(StageSynthesize, 900)
	w.ObserveIndicator("capture_artifact")
	w.ObserveIndicator("capture_artifact")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != StageSynthesize {
		t.Fatalf("Stage = %q, want %q", s.Stage, StageSynthesize)
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS <= 700 || s.P95MS > 900 {
		t.Fatalf("P95MS = %.2f, want (700,900]", s.P95MS)
	}
	if s.TargetP95MS != 2500 {
		t.Fatalf("TargetP95MS = %.2f, want 2500", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want one with count 2", snap.Indicators)
	}
}

func TestStageWindowWrapsAtCapacity(t *testing.T) {
	w := NewStageWindow(2)
	for _, v := range []float64{10, 20, 30} {
		w.Observe(StageRespond, v)
	}
	s := w.Snapshot().Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25", s.AvgMS)
	}

	w.Reset()
	if got := len(w.Snapshot().Stages); got != 0 {
		t.Fatalf("len(Stages) after Reset = %d, want 0", got)
	}
}

func TestMetricsObserveStageFeedsWindow(t *testing.T) {
	m := NewMetrics("test_observe_stage")
	m.ObserveStage(StageTranscribe, 1500*time.Millisecond)
	m.ObserveCapture("silence", "artifact", 32000)

	snap := m.Stages.Snapshot()
	if len(snap.Stages) != 1 || snap.Stages[0].LastMS != 1500 {
		t.Fatalf("stages = %+v, want transcribe at 1500ms", snap.Stages)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Name != "capture_artifact" {
		t.Fatalf("indicators = %+v", snap.Indicators)
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveStage(StageRespond, time.Second)
}
