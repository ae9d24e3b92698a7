// Package samples provides access to persisted sample archives and the
// startup inventory that derives per-split counts and class-balance weights
// from them.
package samples

import (
	"fmt"

	"github.com/geodl/segtrain/tensor"
)

// Split names, in the order the pipeline iterates them.
const (
	SplitTrain      = "trn"
	SplitValidation = "val"
	SplitTest       = "tst"
)

// Splits lists all dataset splits.
var Splits = []string{SplitTrain, SplitValidation, SplitTest}

// Archive is one immutable persisted container of (image, label) pairs for a
// single split. Image tensors are [bands, H, W] Float32; label tensors are
// [H, W] Int64 holding class indices plus an optional dontcare sentinel.
type Archive interface {
	// Len returns the number of records in the archive.
	Len() int
	// Image reads the imagery tensor at the given index.
	Image(idx int) (*tensor.Tensor, error)
	// Label reads the label tensor at the given index.
	Label(idx int) (*tensor.Tensor, error)
	// Close releases any resources held by the archive.
	Close() error
}

// Opener opens the archive stored at path.
type Opener func(path string) (Archive, error)

// ArchiveFilename returns the canonical archive file name for a split.
func ArchiveFilename(split string) string {
	return split + "_samples.hdf5"
}

// FolderName builds the canonical samples directory name from the dataset
// geometry and experiment name.
func FolderName(sampleSize, overlap, minAnnotPerc, bands int, experiment string) string {
	return fmt.Sprintf("samples%d_overlap%d_min-annot%d_%dbands_%s",
		sampleSize, overlap, minAnnotPerc, bands, experiment)
}

// MemoryArchive is an in-memory Archive implementation for tests and simple
// use cases.
type MemoryArchive struct {
	images []*tensor.Tensor
	labels []*tensor.Tensor
}

// NewMemoryArchive creates a MemoryArchive from aligned image and label
// slices.
func NewMemoryArchive(images, labels []*tensor.Tensor) (*MemoryArchive, error) {
	if len(images) != len(labels) {
		return nil, fmt.Errorf("images and labels must have the same length: got %d and %d", len(images), len(labels))
	}
	return &MemoryArchive{images: images, labels: labels}, nil
}

// Len returns the number of records.
func (a *MemoryArchive) Len() int { return len(a.images) }

// Image returns the image tensor at idx.
func (a *MemoryArchive) Image(idx int) (*tensor.Tensor, error) {
	if idx < 0 || idx >= len(a.images) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(a.images))
	}
	return a.images[idx], nil
}

// Label returns the label tensor at idx.
func (a *MemoryArchive) Label(idx int) (*tensor.Tensor, error) {
	if idx < 0 || idx >= len(a.labels) {
		return nil, fmt.Errorf("index %d out of range [0, %d)", idx, len(a.labels))
	}
	return a.labels[idx], nil
}

// Close is a no-op for in-memory archives.
func (a *MemoryArchive) Close() error { return nil }
