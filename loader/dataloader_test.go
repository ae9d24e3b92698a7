package loader

import (
	"runtime"
	"testing"
	"time"

	"github.com/geodl/segtrain/samples"
	"github.com/geodl/segtrain/tensor"
)

// buildArchive creates n in-memory samples; sample i's image is filled with
// float32(i) and its label with i % classes.
func buildArchive(t *testing.T, n, bands, size, classes int) *samples.MemoryArchive {
	t.Helper()
	var images, labels []*tensor.Tensor
	for i := 0; i < n; i++ {
		img := make([]float32, bands*size*size)
		for j := range img {
			img[j] = float32(i)
		}
		imgT, err := tensor.NewTensor([]int{bands, size, size}, tensor.Float32, img)
		if err != nil {
			t.Fatalf("building image tensor: %v", err)
		}

		lbl := make([]int64, size*size)
		for j := range lbl {
			lbl[j] = int64(i % classes)
		}
		lblT, err := tensor.NewTensor([]int{size, size}, tensor.Int64, lbl)
		if err != nil {
			t.Fatalf("building label tensor: %v", err)
		}
		images = append(images, imgT)
		labels = append(labels, lblT)
	}
	archive, err := samples.NewMemoryArchive(images, labels)
	if err != nil {
		t.Fatalf("building archive: %v", err)
	}
	return archive
}

func collectBatches(t *testing.T, dl *DataLoader) []*Batch {
	t.Helper()
	var batches []*Batch
	it := dl.Iterator()
	for {
		batch, err := it.Next()
		if err != nil {
			t.Fatalf("iterating batches: %v", err)
		}
		if batch == nil {
			return batches
		}
		batches = append(batches, batch)
	}
}

func TestIteratorCloseMidEpoch(t *testing.T) {
	archive := buildArchive(t, 40, 1, 2, 2)
	ds := NewSegmentationDataset(archive, samples.SplitValidation, 40, Transforms{}, 0)
	dl := NewDataLoader(ds, SequentialSampler{}, 2, 4, -1)

	baseline := runtime.NumGoroutine()

	it := dl.Iterator()
	batch, err := it.Next()
	if err != nil || batch == nil {
		t.Fatalf("first batch: batch=%v err=%v", batch, err)
	}
	it.Close()

	// The producer and its workers unwind once the iterator is closed.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && runtime.NumGoroutine() > baseline {
		time.Sleep(5 * time.Millisecond)
	}
	if got := runtime.NumGoroutine(); got > baseline {
		t.Errorf("%d goroutines still running after Close, want at most %d", got, baseline)
	}

	if batch, err := it.Next(); batch != nil || err != nil {
		t.Errorf("Next after Close = (%v, %v), want (nil, nil)", batch, err)
	}
	// Closing twice, and after abandonment, is harmless.
	it.Close()

	// A fresh pass over the same loader still completes.
	if got := len(collectBatches(t, dl)); got != 20 {
		t.Errorf("fresh pass yielded %d batches, want 20", got)
	}
}

func TestIteratorCloseAfterExhaustion(t *testing.T) {
	archive := buildArchive(t, 4, 1, 2, 2)
	ds := NewSegmentationDataset(archive, samples.SplitValidation, 4, Transforms{}, 0)
	dl := NewDataLoader(ds, SequentialSampler{}, 2, 2, -1)

	it := dl.Iterator()
	for {
		batch, err := it.Next()
		if err != nil {
			t.Fatalf("iterating: %v", err)
		}
		if batch == nil {
			break
		}
	}
	it.Close()
	if batch, err := it.Next(); batch != nil || err != nil {
		t.Errorf("Next after exhaustion and Close = (%v, %v), want (nil, nil)", batch, err)
	}
}

func TestDataLoaderDropsPartialBatch(t *testing.T) {
	archive := buildArchive(t, 10, 1, 2, 2)
	ds := NewSegmentationDataset(archive, samples.SplitValidation, 10, Transforms{}, 0)
	dl := NewDataLoader(ds, SequentialSampler{}, 3, 2, -1)

	if got := dl.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3 (trailing partial batch dropped)", got)
	}
	batches := collectBatches(t, dl)
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	for i, b := range batches {
		if b.Size != 3 {
			t.Errorf("batch %d size = %d, want 3", i, b.Size)
		}
	}
}

func TestDataLoaderSequentialOrderIsDeterministic(t *testing.T) {
	archive := buildArchive(t, 6, 1, 2, 2)
	ds := NewSegmentationDataset(archive, samples.SplitValidation, 6, Transforms{}, 0)
	dl := NewDataLoader(ds, SequentialSampler{}, 2, 4, -1)

	// Prefetch workers assemble batches in parallel but delivery stays in
	// sampler order.
	for trial := 0; trial < 3; trial++ {
		batches := collectBatches(t, dl)
		if len(batches) != 3 {
			t.Fatalf("got %d batches, want 3", len(batches))
		}
		for i, b := range batches {
			images := b.Images.Float32s()
			pixels := 4
			for s := 0; s < b.Size; s++ {
				want := float32(i*2 + s)
				if got := images[s*pixels]; got != want {
					t.Errorf("trial %d batch %d sample %d: value = %v, want %v", trial, i, s, got, want)
				}
			}
		}
	}
}

func TestDataLoaderBatchShapes(t *testing.T) {
	archive := buildArchive(t, 4, 3, 5, 2)
	ds := NewSegmentationDataset(archive, samples.SplitValidation, 4, Transforms{}, 0)
	dl := NewDataLoader(ds, SequentialSampler{}, 2, 1, -1)

	batches := collectBatches(t, dl)
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(batches))
	}
	b := batches[0]
	wantImg := []int{2, 3, 5, 5}
	wantLbl := []int{2, 5, 5}
	for i, dim := range wantImg {
		if b.Images.Shape[i] != dim {
			t.Errorf("image shape = %v, want %v", b.Images.Shape, wantImg)
			break
		}
	}
	for i, dim := range wantLbl {
		if b.Labels.Shape[i] != dim {
			t.Errorf("label shape = %v, want %v", b.Labels.Shape, wantLbl)
			break
		}
	}
}

func TestWeightedRandomSampler(t *testing.T) {
	// Index 1 carries most of the mass; over 10k draws it must dominate.
	weights := []float64{0.1, 10, 0.1, 0.1}
	sampler := NewWeightedRandomSampler(weights, 42)
	order := sampler.Order(10000)
	if len(order) != 10000 {
		t.Fatalf("Order returned %d indices, want 10000", len(order))
	}
	counts := make([]int, len(weights))
	for _, idx := range order {
		if idx < 0 || idx >= len(weights) {
			t.Fatalf("index %d out of range", idx)
		}
		counts[idx]++
	}
	if counts[1] < 9000 {
		t.Errorf("heavy index drawn %d times out of 10000, expected >= 9000", counts[1])
	}
	for i, c := range counts {
		if i != 1 && c == 0 {
			t.Errorf("index %d never drawn despite positive weight", i)
		}
	}
}

func TestWeightedRandomSamplerDeterministicForSeed(t *testing.T) {
	weights := []float64{1, 2, 3}
	a := NewWeightedRandomSampler(weights, 7).Order(50)
	b := NewWeightedRandomSampler(weights, 7).Order(50)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed produced different orders at %d: %d vs %d", i, a[i], b[i])
		}
	}
}
