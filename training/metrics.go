package training

import (
	"fmt"
)

// Metric names tracked per epoch.
const (
	MetricLoss      = "loss"
	MetricPrecision = "precision"
	MetricRecall    = "recall"
	MetricFScore    = "fscore"
	MetricIoU       = "iou"
)

// Meter keeps a running weighted average of one metric.
type Meter struct {
	Val   float64
	Sum   float64
	Count int
	Avg   float64
}

// Update folds in a new value observed over n samples.
func (m *Meter) Update(val float64, n int) {
	m.Val = val
	m.Sum += val * float64(n)
	m.Count += n
	if m.Count > 0 {
		m.Avg = m.Sum / float64(m.Count)
	}
}

// MetricsSet is the per-epoch accumulator: one meter per named metric, plus
// per-class meters for the classification metrics. A fresh set is created
// for every epoch and split, owned and mutated only by its epoch runner.
type MetricsSet struct {
	meters     map[string]*Meter
	numClasses int
}

// NewMetricsSet creates meters for loss, the aggregate classification
// metrics and their per-class variants.
func NewMetricsSet(numClasses int) *MetricsSet {
	ms := &MetricsSet{
		meters:     make(map[string]*Meter),
		numClasses: numClasses,
	}
	for _, name := range []string{MetricLoss, MetricPrecision, MetricRecall, MetricFScore, MetricIoU} {
		ms.meters[name] = &Meter{}
	}
	for c := 0; c < numClasses; c++ {
		for _, name := range []string{MetricPrecision, MetricRecall, MetricFScore, MetricIoU} {
			ms.meters[classMetricName(name, c)] = &Meter{}
		}
	}
	return ms
}

func classMetricName(name string, class int) string {
	return fmt.Sprintf("%s_%d", name, class)
}

// Get returns the meter with the given name, or nil if absent.
func (ms *MetricsSet) Get(name string) *Meter { return ms.meters[name] }

// Class returns the per-class meter for a metric.
func (ms *MetricsSet) Class(name string, class int) *Meter {
	return ms.meters[classMetricName(name, class)]
}

// Averages returns the aggregate metric averages keyed by name, for
// reporting and tracking.
func (ms *MetricsSet) Averages() map[string]float64 {
	out := make(map[string]float64)
	for _, name := range []string{MetricLoss, MetricPrecision, MetricRecall, MetricFScore, MetricIoU} {
		if m := ms.meters[name]; m.Count > 0 {
			out[name] = m.Avg
		}
	}
	return out
}

// UpdateIoU folds per-pixel predictions and labels into the IoU meters.
// Pixels whose label equals ignoreIndex are excluded. batchSize weights the
// running average.
func (ms *MetricsSet) UpdateIoU(preds, labels []int64, batchSize int, ignoreIndex int64) error {
	if len(preds) != len(labels) {
		return fmt.Errorf("predictions and labels length mismatch: %d vs %d", len(preds), len(labels))
	}

	intersection := make([]int, ms.numClasses)
	union := make([]int, ms.numClasses)
	for i := range preds {
		if labels[i] == ignoreIndex {
			continue
		}
		p, l := preds[i], labels[i]
		if p == l && isClass(p, ms.numClasses) {
			intersection[p]++
		}
		if isClass(p, ms.numClasses) {
			union[p]++
		}
		if isClass(l, ms.numClasses) && l != p {
			union[l]++
		}
	}

	var sum float64
	var present int
	for c := 0; c < ms.numClasses; c++ {
		if union[c] == 0 {
			continue
		}
		iou := float64(intersection[c]) / float64(union[c])
		ms.Class(MetricIoU, c).Update(iou, batchSize)
		sum += iou
		present++
	}
	if present > 0 {
		ms.Get(MetricIoU).Update(sum/float64(present), batchSize)
	}
	return nil
}

// UpdateClassification folds per-pixel predictions and labels into the
// precision/recall/fscore meters, macro-averaged across classes present in
// the labels. Pixels whose label equals ignoreIndex are excluded.
func (ms *MetricsSet) UpdateClassification(preds, labels []int64, batchSize int, ignoreIndex int64) error {
	if len(preds) != len(labels) {
		return fmt.Errorf("predictions and labels length mismatch: %d vs %d", len(preds), len(labels))
	}

	tp := make([]int, ms.numClasses)
	fp := make([]int, ms.numClasses)
	fn := make([]int, ms.numClasses)
	support := make([]int, ms.numClasses)
	for i := range preds {
		if labels[i] == ignoreIndex {
			continue
		}
		p, l := preds[i], labels[i]
		if isClass(l, ms.numClasses) {
			support[l]++
			if p == l {
				tp[l]++
			} else {
				fn[l]++
				if isClass(p, ms.numClasses) {
					fp[p]++
				}
			}
		}
	}

	var sumPrec, sumRec, sumF float64
	var present int
	for c := 0; c < ms.numClasses; c++ {
		if support[c] == 0 {
			continue
		}
		var precision, recall, fscore float64
		if tp[c]+fp[c] > 0 {
			precision = float64(tp[c]) / float64(tp[c]+fp[c])
		}
		if tp[c]+fn[c] > 0 {
			recall = float64(tp[c]) / float64(tp[c]+fn[c])
		}
		if precision+recall > 0 {
			fscore = 2 * precision * recall / (precision + recall)
		}
		ms.Class(MetricPrecision, c).Update(precision, batchSize)
		ms.Class(MetricRecall, c).Update(recall, batchSize)
		ms.Class(MetricFScore, c).Update(fscore, batchSize)
		sumPrec += precision
		sumRec += recall
		sumF += fscore
		present++
	}
	if present > 0 {
		n := float64(present)
		ms.Get(MetricPrecision).Update(sumPrec/n, batchSize)
		ms.Get(MetricRecall).Update(sumRec/n, batchSize)
		ms.Get(MetricFScore).Update(sumF/n, batchSize)
	}
	return nil
}

func isClass(v int64, numClasses int) bool {
	return v >= 0 && v < int64(numClasses)
}
