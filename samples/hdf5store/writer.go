package hdf5store

import (
	"github.com/pkg/errors"
	"gonum.org/v1/hdf5"

	"github.com/geodl/segtrain/tensor"
)

// Write creates an archive at path from aligned image ([bands, H, W] Float32)
// and label ([H, W] Int64) tensors. It is used by the tiling tools and by
// tests; training itself only reads archives.
func Write(path string, images, labels []*tensor.Tensor) error {
	if len(images) != len(labels) {
		return errors.Errorf("images and labels must have the same length: got %d and %d", len(images), len(labels))
	}
	if len(images) == 0 {
		return errors.New("cannot write an empty archive")
	}

	bands, height, width := images[0].Shape[0], images[0].Shape[1], images[0].Shape[2]
	n := len(images)

	imageData := make([]float32, n*height*width*bands)
	labelData := make([]int64, n*height*width)
	pixels := height * width
	for i := 0; i < n; i++ {
		chw := images[i].Float32s()
		// CHW in memory, HWC on disk.
		for p := 0; p < pixels; p++ {
			for b := 0; b < bands; b++ {
				imageData[i*pixels*bands+p*bands+b] = chw[b*pixels+p]
			}
		}
		copy(labelData[i*pixels:(i+1)*pixels], labels[i].Int64s())
	}

	file, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return errors.Wrapf(err, "creating hdf5 file %s", path)
	}
	defer file.Close()

	if err := writeDataset(file, imageDataset, []uint{uint(n), uint(height), uint(width), uint(bands)}, hdf5.T_NATIVE_FLOAT, imageData); err != nil {
		return err
	}
	return writeDataset(file, labelDataset, []uint{uint(n), uint(height), uint(width)}, hdf5.T_NATIVE_INT64, labelData)
}

func writeDataset(file *hdf5.File, name string, dims []uint, dtype *hdf5.Datatype, data interface{}) error {
	space, err := hdf5.CreateSimpleDataspace(dims, nil)
	if err != nil {
		return errors.Wrapf(err, "creating dataspace for %q", name)
	}
	defer space.Close()

	ds, err := file.CreateDataset(name, dtype, space)
	if err != nil {
		return errors.Wrapf(err, "creating dataset %q", name)
	}
	defer ds.Close()

	if err := ds.Write(data); err != nil {
		return errors.Wrapf(err, "writing dataset %q", name)
	}
	return nil
}
