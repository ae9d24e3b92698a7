// Package hdf5store implements samples.Archive over HDF5 sample archives as
// produced by the tiling pipeline: a "sat_img" dataset of shape
// [N, H, W, bands] (float32) aligned 1:1 with a "map_img" dataset of shape
// [N, H, W] (int64).
package hdf5store

import (
	"github.com/pkg/errors"
	"gonum.org/v1/hdf5"

	"github.com/geodl/segtrain/samples"
	"github.com/geodl/segtrain/tensor"
)

const (
	imageDataset = "sat_img"
	labelDataset = "map_img"
)

// Store is an HDF5-backed sample archive. It is safe for sequential use only;
// the loader's prefetch workers coordinate access through the Dataset layer.
type Store struct {
	file   *hdf5.File
	images *hdf5.Dataset
	labels *hdf5.Dataset

	count  int
	height int
	width  int
	bands  int
}

var _ samples.Archive = (*Store)(nil)

// Open opens the archive at path read-only.
func Open(path string) (*Store, error) {
	file, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, errors.Wrapf(err, "opening hdf5 file %s", path)
	}

	labels, err := file.OpenDataset(labelDataset)
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "opening dataset %q", labelDataset)
	}
	images, err := file.OpenDataset(imageDataset)
	if err != nil {
		labels.Close()
		file.Close()
		return nil, errors.Wrapf(err, "opening dataset %q", imageDataset)
	}

	imageDims, _, err := images.Space().SimpleExtentDims()
	if err != nil {
		images.Close()
		labels.Close()
		file.Close()
		return nil, errors.Wrap(err, "reading image dataset extent")
	}
	if len(imageDims) != 4 {
		images.Close()
		labels.Close()
		file.Close()
		return nil, errors.Errorf("dataset %q must be [N, H, W, bands], got %d dimensions", imageDataset, len(imageDims))
	}

	return &Store{
		file:   file,
		images: images,
		labels: labels,
		count:  int(imageDims[0]),
		height: int(imageDims[1]),
		width:  int(imageDims[2]),
		bands:  int(imageDims[3]),
	}, nil
}

// Len returns the number of records in the archive.
func (s *Store) Len() int { return s.count }

// Image reads record idx from sat_img and converts it from [H, W, bands]
// storage order to a [bands, H, W] tensor.
func (s *Store) Image(idx int) (*tensor.Tensor, error) {
	raw := make([]float32, s.height*s.width*s.bands)
	if err := s.readRecord(s.images, idx, []uint{uint(s.height), uint(s.width), uint(s.bands)}, &raw); err != nil {
		return nil, errors.Wrapf(err, "reading image %d", idx)
	}

	chw := make([]float32, len(raw))
	pixels := s.height * s.width
	for p := 0; p < pixels; p++ {
		for b := 0; b < s.bands; b++ {
			chw[b*pixels+p] = raw[p*s.bands+b]
		}
	}
	return tensor.NewTensor([]int{s.bands, s.height, s.width}, tensor.Float32, chw)
}

// Label reads record idx from map_img as a [H, W] tensor.
func (s *Store) Label(idx int) (*tensor.Tensor, error) {
	raw := make([]int64, s.height*s.width)
	if err := s.readRecord(s.labels, idx, []uint{uint(s.height), uint(s.width)}, &raw); err != nil {
		return nil, errors.Wrapf(err, "reading label %d", idx)
	}
	return tensor.NewTensor([]int{s.height, s.width}, tensor.Int64, raw)
}

// readRecord reads the hyperslab for one record: offset [idx, 0, ...], count
// [1, recordDims...].
func (s *Store) readRecord(ds *hdf5.Dataset, idx int, recordDims []uint, dst interface{}) error {
	if idx < 0 || idx >= s.count {
		return errors.Errorf("index %d out of range [0, %d)", idx, s.count)
	}

	filespace := ds.Space()
	defer filespace.Close()

	offset := make([]uint, len(recordDims)+1)
	offset[0] = uint(idx)
	count := append([]uint{1}, recordDims...)
	if err := filespace.SelectHyperslab(offset, nil, count, nil); err != nil {
		return errors.Wrap(err, "selecting hyperslab")
	}

	memspace, err := hdf5.CreateSimpleDataspace(count, nil)
	if err != nil {
		return errors.Wrap(err, "creating memory dataspace")
	}
	defer memspace.Close()

	if err := ds.ReadSubset(dst, memspace, filespace); err != nil {
		return errors.Wrap(err, "reading subset")
	}
	return nil
}

// Close releases the datasets and the file handle.
func (s *Store) Close() error {
	var firstErr error
	for _, closer := range []func() error{s.images.Close, s.labels.Close, s.file.Close} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Opener adapts Open to the samples.Opener signature.
func Opener(path string) (samples.Archive, error) {
	return Open(path)
}
