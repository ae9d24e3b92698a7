// Package loader builds the batched iteration sources feeding the epoch
// runners: weighted randomized iteration over the training split and
// deterministic sequential iteration over the validation and test splits.
package loader

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/geodl/segtrain/samples"
	"github.com/geodl/segtrain/tensor"
)

// Dataset is a random-access source of (image, label) samples.
type Dataset interface {
	Len() int
	Get(idx int) (image *tensor.Tensor, label *tensor.Tensor, err error)
}

// Transforms configures the per-sample processing applied on read.
type Transforms struct {
	// DontcareVal is the label sentinel excluded from loss and metrics.
	DontcareVal int64
	// DontcareToBackground remaps the sentinel to the background class (0)
	// for loss functions without ignore-index support.
	DontcareToBackground bool
	// CropSize crops samples to a square of this side length. Zero disables
	// cropping.
	CropSize int
	// RandomCrop selects the crop window randomly instead of centering it.
	// Only the training split uses random windows.
	RandomCrop bool
	// ScaleMin and ScaleMax linearly rescale imagery values from [0, 1] to
	// [ScaleMin, ScaleMax]. Equal values disable scaling.
	ScaleMin float64
	ScaleMax float64
}

// SegmentationDataset adapts a sample archive into a Dataset, applying the
// configured transforms. Reads are serialized: the underlying archive is not
// required to support concurrent access.
type SegmentationDataset struct {
	archive samples.Archive
	split   string
	count   int
	tf      Transforms
	rng     *rand.Rand
	mu      sync.Mutex
}

// NewSegmentationDataset wraps archive for the given split, capped at count
// samples.
func NewSegmentationDataset(archive samples.Archive, split string, count int, tf Transforms, seed int64) *SegmentationDataset {
	return &SegmentationDataset{
		archive: archive,
		split:   split,
		count:   count,
		tf:      tf,
		rng:     rand.New(rand.NewSource(seed)),
	}
}

// Len returns the number of usable samples.
func (ds *SegmentationDataset) Len() int { return ds.count }

// DontcareVal returns the label sentinel configured for this dataset.
func (ds *SegmentationDataset) DontcareVal() int64 { return ds.tf.DontcareVal }

// Get reads and transforms the sample at idx.
func (ds *SegmentationDataset) Get(idx int) (*tensor.Tensor, *tensor.Tensor, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if idx < 0 || idx >= ds.count {
		return nil, nil, fmt.Errorf("index %d out of range [0, %d)", idx, ds.count)
	}

	image, err := ds.archive.Image(idx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load image %d: %v", idx, err)
	}
	label, err := ds.archive.Label(idx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load label %d: %v", idx, err)
	}

	if ds.tf.CropSize > 0 {
		image, label, err = ds.crop(image, label)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to crop sample %d: %v", idx, err)
		}
	} else {
		image = image.Clone()
		label = label.Clone()
	}

	if ds.tf.DontcareToBackground {
		remapDontcare(label.Int64s(), ds.tf.DontcareVal)
	}
	if ds.tf.ScaleMax != ds.tf.ScaleMin {
		scaleImage(image.Float32s(), ds.tf.ScaleMin, ds.tf.ScaleMax)
	}
	return image, label, nil
}

// Close releases the underlying archive.
func (ds *SegmentationDataset) Close() error { return ds.archive.Close() }

// crop extracts the same square window from image ([bands, H, W]) and label
// ([H, W]).
func (ds *SegmentationDataset) crop(image, label *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	bands, height, width := image.Shape[0], image.Shape[1], image.Shape[2]
	size := ds.tf.CropSize
	if size > height || size > width {
		return nil, nil, fmt.Errorf("crop size %d exceeds sample size %dx%d", size, height, width)
	}

	var top, left int
	if ds.tf.RandomCrop {
		top = ds.rng.Intn(height - size + 1)
		left = ds.rng.Intn(width - size + 1)
	} else {
		top = (height - size) / 2
		left = (width - size) / 2
	}

	src := image.Float32s()
	croppedImage := make([]float32, bands*size*size)
	for b := 0; b < bands; b++ {
		for r := 0; r < size; r++ {
			srcOff := b*height*width + (top+r)*width + left
			dstOff := b*size*size + r*size
			copy(croppedImage[dstOff:dstOff+size], src[srcOff:srcOff+size])
		}
	}

	lbl := label.Int64s()
	croppedLabel := make([]int64, size*size)
	for r := 0; r < size; r++ {
		copy(croppedLabel[r*size:(r+1)*size], lbl[(top+r)*width+left:(top+r)*width+left+size])
	}

	outImage, err := tensor.NewTensor([]int{bands, size, size}, tensor.Float32, croppedImage)
	if err != nil {
		return nil, nil, err
	}
	outLabel, err := tensor.NewTensor([]int{size, size}, tensor.Int64, croppedLabel)
	if err != nil {
		return nil, nil, err
	}
	return outImage, outLabel, nil
}

func remapDontcare(values []int64, dontcare int64) {
	for i, v := range values {
		if v == dontcare {
			values[i] = 0
		}
	}
}

func scaleImage(values []float32, min, max float64) {
	span := float32(max - min)
	lo := float32(min)
	for i, v := range values {
		values[i] = lo + v*span
	}
}
