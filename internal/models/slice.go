package models

import (
	"bytes"
	"fmt"
	"math"
)

// Mask is a 2D binary segmentation mask for one axial slice.
type Mask struct {
	// Rows is the height of the slice in pixels
	Rows int `json:"rows"`

	// Cols is the width of the slice in pixels
	Cols int `json:"cols"`

	// Data holds Rows*Cols values in row-major order.
	// Any value greater than zero counts as foreground.
	Data []uint8 `json:"data"`
}

// NewMask returns an empty (all background) mask of the given size
func NewMask(rows, cols int) Mask {
	return Mask{Rows: rows, Cols: cols, Data: make([]uint8, rows*cols)}
}

// MaskFromRows builds a mask from nested rows. All rows must have the same length.
func MaskFromRows(rows [][]uint8) Mask {
	if len(rows) == 0 {
		return Mask{}
	}
	m := NewMask(len(rows), len(rows[0]))
	for y, row := range rows {
		copy(m.Data[y*m.Cols:(y+1)*m.Cols], row)
	}
	return m
}

// Validate checks that the mask dimensions agree with its data
func (m Mask) Validate() error {
	if m.Rows < 0 || m.Cols < 0 {
		return fmt.Errorf("invalid mask dimensions %dx%d", m.Rows, m.Cols)
	}
	if len(m.Data) != m.Rows*m.Cols {
		return fmt.Errorf("mask %dx%d has %d values, expected %d",
			m.Rows, m.Cols, len(m.Data), m.Rows*m.Cols)
	}
	return nil
}

// SameShape reports whether two masks have identical dimensions
func (m Mask) SameShape(o Mask) bool {
	return m.Rows == o.Rows && m.Cols == o.Cols
}

// Equal reports whether two masks have the same shape and identical values
func (m Mask) Equal(o Mask) bool {
	return m.SameShape(o) && bytes.Equal(m.Data, o.Data)
}

// Clone returns a deep copy so the result never aliases the source data
func (m Mask) Clone() Mask {
	data := make([]uint8, len(m.Data))
	copy(data, m.Data)
	return Mask{Rows: m.Rows, Cols: m.Cols, Data: data}
}

// At returns the raw value at row y, column x
func (m Mask) At(y, x int) uint8 {
	return m.Data[y*m.Cols+x]
}

// Foreground counts the pixels with a value greater than zero
func (m Mask) Foreground() int {
	n := 0
	for _, v := range m.Data {
		if v > 0 {
			n++
		}
	}
	return n
}

// FloatMap is a 2D array of floating point values in row-major order.
// It is used for raw images, probability maps and uncertainty maps.
type FloatMap struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// Validate checks that the map dimensions agree with its data
func (f FloatMap) Validate() error {
	if f.Rows < 0 || f.Cols < 0 {
		return fmt.Errorf("invalid map dimensions %dx%d", f.Rows, f.Cols)
	}
	if len(f.Data) != f.Rows*f.Cols {
		return fmt.Errorf("map %dx%d has %d values, expected %d",
			f.Rows, f.Cols, len(f.Data), f.Rows*f.Cols)
	}
	return nil
}

// ValidateUnit checks dimensions and that every value lies in [0,1]
func (f FloatMap) ValidateUnit() error {
	if err := f.Validate(); err != nil {
		return err
	}
	for i, v := range f.Data {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("value %v at index %d outside [0,1]", v, i)
		}
	}
	return nil
}

// Threshold binarizes the map: values strictly above t become foreground
func (f FloatMap) Threshold(t float64) Mask {
	m := NewMask(f.Rows, f.Cols)
	for i, v := range f.Data {
		if v > t {
			m.Data[i] = 1
		}
	}
	return m
}

// Volume is a stack of equally sized masks ordered along the axial axis
type Volume struct {
	Depth int
	Rows  int
	Cols  int

	// Data is the 3D volume as a 1D array in slice-major, then row-major order
	Data []uint8
}

// StackMasks stacks 2D masks into a volume in the order given
func StackMasks(masks []Mask) (Volume, error) {
	if len(masks) == 0 {
		return Volume{}, nil
	}
	rows, cols := masks[0].Rows, masks[0].Cols
	size := rows * cols
	vol := Volume{Depth: len(masks), Rows: rows, Cols: cols, Data: make([]uint8, size*len(masks))}
	for z, m := range masks {
		if err := m.Validate(); err != nil {
			return Volume{}, fmt.Errorf("slice %d: %w", z, err)
		}
		if m.Rows != rows || m.Cols != cols {
			return Volume{}, fmt.Errorf("%w: slice %d is %dx%d, expected %dx%d",
				ErrShapeMismatch, z, m.Rows, m.Cols, rows, cols)
		}
		copy(vol.Data[z*size:(z+1)*size], m.Data)
	}
	return vol, nil
}

// SameShape reports whether two volumes have identical dimensions
func (v Volume) SameShape(o Volume) bool {
	return v.Depth == o.Depth && v.Rows == o.Rows && v.Cols == o.Cols
}

// Slice returns a copy of the mask at depth z
func (v Volume) Slice(z int) Mask {
	size := v.Rows * v.Cols
	m := NewMask(v.Rows, v.Cols)
	copy(m.Data, v.Data[z*size:(z+1)*size])
	return m
}
