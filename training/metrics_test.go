package training

import (
	"math"
	"testing"
)

func TestMeterUpdate(t *testing.T) {
	var m Meter
	m.Update(1.0, 2)
	m.Update(4.0, 1)

	if m.Val != 4.0 {
		t.Errorf("Val = %v, want 4.0", m.Val)
	}
	if m.Count != 3 {
		t.Errorf("Count = %d, want 3", m.Count)
	}
	want := (1.0*2 + 4.0*1) / 3
	if math.Abs(m.Avg-want) > 1e-12 {
		t.Errorf("Avg = %v, want %v", m.Avg, want)
	}
}

func TestUpdateIoUPerfectPrediction(t *testing.T) {
	ms := NewMetricsSet(3)
	labels := []int64{0, 1, 2, 1}
	if err := ms.UpdateIoU(labels, labels, 1, -1); err != nil {
		t.Fatalf("UpdateIoU failed: %v", err)
	}
	if got := ms.Get(MetricIoU).Avg; got != 1.0 {
		t.Errorf("mean IoU = %v, want 1.0 for perfect predictions", got)
	}
	for c := 0; c < 3; c++ {
		if got := ms.Class(MetricIoU, c).Avg; got != 1.0 {
			t.Errorf("class %d IoU = %v, want 1.0", c, got)
		}
	}
}

func TestUpdateIoUKnownMixture(t *testing.T) {
	ms := NewMetricsSet(2)
	preds := []int64{0, 0, 1, 1}
	labels := []int64{0, 1, 1, 1}
	if err := ms.UpdateIoU(preds, labels, 1, -1); err != nil {
		t.Fatalf("UpdateIoU failed: %v", err)
	}

	// Class 0: intersection 1, union 2. Class 1: intersection 2, union 3.
	if got := ms.Class(MetricIoU, 0).Avg; math.Abs(got-0.5) > 1e-12 {
		t.Errorf("class 0 IoU = %v, want 0.5", got)
	}
	if got := ms.Class(MetricIoU, 1).Avg; math.Abs(got-2.0/3) > 1e-12 {
		t.Errorf("class 1 IoU = %v, want 2/3", got)
	}
	wantMean := (0.5 + 2.0/3) / 2
	if got := ms.Get(MetricIoU).Avg; math.Abs(got-wantMean) > 1e-12 {
		t.Errorf("mean IoU = %v, want %v", got, wantMean)
	}
}

func TestUpdateIoUExcludesDontcare(t *testing.T) {
	ms := NewMetricsSet(2)
	preds := []int64{0, 1, 1}
	labels := []int64{0, -1, -1}
	if err := ms.UpdateIoU(preds, labels, 1, -1); err != nil {
		t.Fatalf("UpdateIoU failed: %v", err)
	}
	if got := ms.Get(MetricIoU).Avg; got != 1.0 {
		t.Errorf("mean IoU = %v, want 1.0 once dontcare pixels are excluded", got)
	}
}

func TestUpdateClassification(t *testing.T) {
	ms := NewMetricsSet(2)
	preds := []int64{0, 1, 1}
	labels := []int64{0, 0, 1}
	if err := ms.UpdateClassification(preds, labels, 1, -1); err != nil {
		t.Fatalf("UpdateClassification failed: %v", err)
	}

	// Class 0: tp=1, fn=1, fp=0 -> precision 1, recall 0.5.
	// Class 1: tp=1, fn=0, fp=1 -> precision 0.5, recall 1.
	if got := ms.Class(MetricPrecision, 0).Avg; got != 1.0 {
		t.Errorf("class 0 precision = %v, want 1.0", got)
	}
	if got := ms.Class(MetricRecall, 0).Avg; got != 0.5 {
		t.Errorf("class 0 recall = %v, want 0.5", got)
	}
	if got := ms.Class(MetricPrecision, 1).Avg; got != 0.5 {
		t.Errorf("class 1 precision = %v, want 0.5", got)
	}
	if got := ms.Class(MetricRecall, 1).Avg; got != 1.0 {
		t.Errorf("class 1 recall = %v, want 1.0", got)
	}

	if got := ms.Get(MetricPrecision).Avg; math.Abs(got-0.75) > 1e-12 {
		t.Errorf("macro precision = %v, want 0.75", got)
	}
	if got := ms.Get(MetricRecall).Avg; math.Abs(got-0.75) > 1e-12 {
		t.Errorf("macro recall = %v, want 0.75", got)
	}
	if got := ms.Get(MetricFScore).Avg; math.Abs(got-2.0/3) > 1e-12 {
		t.Errorf("macro fscore = %v, want 2/3", got)
	}
}

func TestUpdateClassificationLengthMismatch(t *testing.T) {
	ms := NewMetricsSet(2)
	if err := ms.UpdateClassification([]int64{0}, []int64{0, 1}, 1, -1); err == nil {
		t.Error("expected length mismatch error")
	}
	if err := ms.UpdateIoU([]int64{0}, []int64{0, 1}, 1, -1); err == nil {
		t.Error("expected length mismatch error")
	}
}

func TestAverages(t *testing.T) {
	ms := NewMetricsSet(2)
	ms.Get(MetricLoss).Update(0.5, 4)

	avgs := ms.Averages()
	if got, ok := avgs[MetricLoss]; !ok || got != 0.5 {
		t.Errorf("Averages()[loss] = %v, want 0.5", got)
	}
	if _, ok := avgs[MetricIoU]; ok {
		t.Error("metrics never updated should not appear in Averages()")
	}
}
