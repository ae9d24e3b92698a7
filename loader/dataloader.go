package loader

import (
	"fmt"
	"sync"

	"github.com/geodl/segtrain/tensor"
)

// Batch holds one fixed-size batch of stacked image and label tensors.
// Images is [batch, bands, H, W]; Labels is [batch, H, W].
type Batch struct {
	Images *tensor.Tensor
	Labels *tensor.Tensor
	// Size is the number of samples in the batch. Trailing partial batches
	// are discarded, so Size always equals the loader's batch size.
	Size int
}

// DataLoader provides batched iteration over a Dataset. Background workers
// prefetch and assemble upcoming batches while the current one computes;
// batches are always delivered in sampler order.
type DataLoader struct {
	dataset    Dataset
	sampler    Sampler
	batchSize  int
	numWorkers int
	dontcare   int64
}

// NewDataLoader creates a DataLoader. numWorkers below 1 is raised to 1.
func NewDataLoader(dataset Dataset, sampler Sampler, batchSize, numWorkers int, dontcare int64) *DataLoader {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &DataLoader{
		dataset:    dataset,
		sampler:    sampler,
		batchSize:  batchSize,
		numWorkers: numWorkers,
		dontcare:   dontcare,
	}
}

// Len returns the number of full batches per epoch. Partial trailing batches
// are discarded.
func (dl *DataLoader) Len() int {
	return dl.dataset.Len() / dl.batchSize
}

// BatchSize returns the configured batch size.
func (dl *DataLoader) BatchSize() int { return dl.batchSize }

// DontcareVal returns the label sentinel value associated with this loader's
// dataset.
func (dl *DataLoader) DontcareVal() int64 { return dl.dontcare }

type batchResult struct {
	batch *Batch
	err   error
}

type batchJob struct {
	indices []int
	out     chan batchResult
}

// Iterator starts a fresh pass over the dataset in sampler order.
func (dl *DataLoader) Iterator() *Iterator {
	order := dl.sampler.Order(dl.dataset.Len())
	batches := dl.Len()

	jobs := make(chan batchJob)
	results := make(chan chan batchResult, dl.numWorkers)

	for w := 0; w < dl.numWorkers; w++ {
		go func() {
			for job := range jobs {
				batch, err := dl.loadBatch(job.indices)
				job.out <- batchResult{batch: batch, err: err}
			}
		}()
	}

	stop := make(chan struct{})
	go func() {
		defer close(jobs)
		defer close(results)
		for b := 0; b < batches; b++ {
			out := make(chan batchResult, 1)
			select {
			case results <- out:
			case <-stop:
				return
			}
			select {
			case jobs <- batchJob{indices: order[b*dl.batchSize : (b+1)*dl.batchSize], out: out}:
			case <-stop:
				return
			}
		}
	}()

	return &Iterator{results: results, stop: stop}
}

// Iterator delivers the batches of one epoch in order. Close must be called
// when a pass is abandoned before exhaustion, or the prefetch goroutines stay
// blocked.
type Iterator struct {
	results chan chan batchResult
	stop    chan struct{}
	once    sync.Once
}

// Next returns the next batch, or (nil, nil) when the epoch is complete or
// the iterator was closed.
func (it *Iterator) Next() (*Batch, error) {
	select {
	case <-it.stop:
		return nil, nil
	default:
	}
	out, ok := <-it.results
	if !ok {
		return nil, nil
	}
	r := <-out
	return r.batch, r.err
}

// Close abandons the pass and releases the prefetch goroutines. It is safe to
// call multiple times and after exhaustion.
func (it *Iterator) Close() {
	it.once.Do(func() { close(it.stop) })
}

// loadBatch assembles the samples at the given indices into stacked batch
// tensors.
func (dl *DataLoader) loadBatch(indices []int) (*Batch, error) {
	if len(indices) == 0 {
		return nil, fmt.Errorf("empty batch indices")
	}

	firstImage, firstLabel, err := dl.dataset.Get(indices[0])
	if err != nil {
		return nil, fmt.Errorf("failed to load sample %d: %v", indices[0], err)
	}

	imageShape := append([]int{len(indices)}, firstImage.Shape...)
	labelShape := append([]int{len(indices)}, firstLabel.Shape...)

	images, err := tensor.Zeros(imageShape, tensor.Float32)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch image tensor: %v", err)
	}
	labels, err := tensor.Zeros(labelShape, tensor.Int64)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch label tensor: %v", err)
	}

	copySample := func(pos int, image, label *tensor.Tensor) error {
		if image.NumElems != firstImage.NumElems || label.NumElems != firstLabel.NumElems {
			return fmt.Errorf("sample size mismatch at batch position %d", pos)
		}
		copy(images.Float32s()[pos*image.NumElems:], image.Float32s())
		copy(labels.Int64s()[pos*label.NumElems:], label.Int64s())
		return nil
	}

	if err := copySample(0, firstImage, firstLabel); err != nil {
		return nil, err
	}
	for pos, idx := range indices[1:] {
		image, label, err := dl.dataset.Get(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
		if err := copySample(pos+1, image, label); err != nil {
			return nil, err
		}
	}

	return &Batch{Images: images, Labels: labels, Size: len(indices)}, nil
}
