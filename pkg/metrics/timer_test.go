package metrics

import (
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func histogramSampleCount(t *testing.T, h interface {
	Write(*dto.Metric) error
}) uint64 {
	t.Helper()
	var m dto.Metric
	if err := h.Write(&m); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestNewTimer(t *testing.T) {
	timer := NewTimer()

	if timer == nil {
		t.Fatal("NewTimer() returned nil")
	}
	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()

	sleepDuration := 20 * time.Millisecond
	time.Sleep(sleepDuration)

	duration := timer.Duration()
	if duration < sleepDuration {
		t.Errorf("Timer.Duration() = %v, want >= %v", duration, sleepDuration)
	}
}

// TestTimerObserveDuration wires a Timer into CommitDuration, the same
// histogram WriteGuard.Commit records to via cmd/arhiv.
func TestTimerObserveDuration(t *testing.T) {
	before := histogramSampleCount(t, CommitDuration)

	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDuration(CommitDuration)

	after := histogramSampleCount(t, CommitDuration)
	if after != before+1 {
		t.Errorf("CommitDuration sample count = %d, want %d", after, before+1)
	}
}

// TestTimerObserveDurationVec wires a Timer into MigrationDuration, the
// histogram labeled by migration data_version.
func TestTimerObserveDurationVec(t *testing.T) {
	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)
	timer.ObserveDurationVec(MigrationDuration, "1")

	observer, err := MigrationDuration.GetMetricWithLabelValues("1")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	h, ok := observer.(interface{ Write(*dto.Metric) error })
	if !ok {
		t.Fatal("observer does not implement Write")
	}
	if count := histogramSampleCount(t, h); count == 0 {
		t.Error("expected at least one sample recorded for from_version=1")
	}
}

func TestTimerMultipleCalls(t *testing.T) {
	timer := NewTimer()

	time.Sleep(10 * time.Millisecond)
	duration1 := timer.Duration()

	time.Sleep(10 * time.Millisecond)
	duration2 := timer.Duration()

	if duration2 <= duration1 {
		t.Errorf("second Duration() call should be longer: first=%v, second=%v", duration1, duration2)
	}
}

func TestTimerZeroDuration(t *testing.T) {
	timer := NewTimer()

	duration := timer.Duration()
	if duration < 0 {
		t.Errorf("Timer.Duration() = %v, want >= 0", duration)
	}
}

// TestStageAndMergeTimersShareHistogramFamily exercises the other two
// operation histograms a Timer is expected to feed: StageDuration for a
// single stage call and MergeDuration for a three-way merge.
func TestStageAndMergeTimersShareHistogramFamily(t *testing.T) {
	beforeStage := histogramSampleCount(t, StageDuration)
	stageTimer := NewTimer()
	stageTimer.ObserveDuration(StageDuration)
	if got := histogramSampleCount(t, StageDuration); got != beforeStage+1 {
		t.Errorf("StageDuration sample count = %d, want %d", got, beforeStage+1)
	}

	beforeMerge := histogramSampleCount(t, MergeDuration)
	mergeTimer := NewTimer()
	mergeTimer.ObserveDuration(MergeDuration)
	if got := histogramSampleCount(t, MergeDuration); got != beforeMerge+1 {
		t.Errorf("MergeDuration sample count = %d, want %d", got, beforeMerge+1)
	}
}
