// Package visualization renders segmentation masks against their ground truth
// as colour overlays so corrected volumes can be inspected slice by slice.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"slicecorrect/internal/models"
)

// Overlay colours
var (
	ColorBackground    = color.RGBA{A: 255}
	ColorTruePositive  = color.RGBA{G: 200, A: 255}
	ColorFalsePositive = color.RGBA{R: 220, A: 255}
	ColorFalseNegative = color.RGBA{G: 90, B: 255, A: 255}

	// ColorCorrected frames axial slices the expert corrected
	ColorCorrected = color.RGBA{R: 255, G: 215, A: 255}
)

// Counts is the voxel confusion of one slice
type Counts struct {
	TruePositive  int
	FalsePositive int
	FalseNegative int
}

// Viewer renders a mask volume against the ground truth volume of the same patient
type Viewer struct {
	mask     models.Volume
	gt       models.Volume
	sliceIDs []int
	selected map[int]bool
}

// NewViewer creates a viewer of a corrected volume. Slices named in the
// selection are framed in axial renders.
func NewViewer(cv models.CorrectedVolume, gt models.GroundTruth) (*Viewer, error) {
	if err := models.CheckPatient(cv.PatientID, gt.PatientID); err != nil {
		return nil, err
	}
	v, err := newViewer(cv.SliceIDs(), cv.Masks(), gt)
	if err != nil {
		return nil, fmt.Errorf("patient %s: %w", gt.PatientID, err)
	}
	for _, id := range cv.SelectedSlices {
		v.selected[id] = true
	}
	return v, nil
}

// NewPredictionViewer creates a viewer of the uncorrected predictions
func NewPredictionViewer(pred models.Predictions, gt models.GroundTruth) (*Viewer, error) {
	if err := models.CheckPatient(pred.PatientID, gt.PatientID); err != nil {
		return nil, err
	}
	v, err := newViewer(pred.SliceIDs(), pred.Masks(), gt)
	if err != nil {
		return nil, fmt.Errorf("patient %s: %w", gt.PatientID, err)
	}
	return v, nil
}

func newViewer(ids []int, masks []models.Mask, gt models.GroundTruth) (*Viewer, error) {
	if err := models.CheckAlignment("mask", ids, "ground truth", gt.SliceIDs()); err != nil {
		return nil, err
	}
	mask, err := models.StackMasks(masks)
	if err != nil {
		return nil, err
	}
	gtVol, err := models.StackMasks(gt.Masks())
	if err != nil {
		return nil, err
	}
	if !mask.SameShape(gtVol) {
		return nil, fmt.Errorf("%w: %dx%dx%d vs %dx%dx%d", models.ErrShapeMismatch,
			mask.Depth, mask.Rows, mask.Cols, gtVol.Depth, gtVol.Rows, gtVol.Cols)
	}
	return &Viewer{mask: mask, gt: gtVol, sliceIDs: ids, selected: make(map[int]bool)}, nil
}

// Depth returns the number of axial slices
func (v *Viewer) Depth() int { return v.mask.Depth }

// SliceIDs returns the slice ids in axial order
func (v *Viewer) SliceIDs() []int { return append([]int{}, v.sliceIDs...) }

// Classify returns the overlay colour of one voxel
func Classify(mask, gt uint8) color.RGBA {
	switch {
	case mask > 0 && gt > 0:
		return ColorTruePositive
	case mask > 0:
		return ColorFalsePositive
	case gt > 0:
		return ColorFalseNegative
	default:
		return ColorBackground
	}
}

// SliceCounts returns the confusion counts of the axial slice at position z
func (v *Viewer) SliceCounts(z int) (Counts, error) {
	if z < 0 || z >= v.mask.Depth {
		return Counts{}, fmt.Errorf("position %d outside depth %d", z, v.mask.Depth)
	}
	var c Counts
	size := v.mask.Rows * v.mask.Cols
	for i := z * size; i < (z+1)*size; i++ {
		m, g := v.mask.Data[i] > 0, v.gt.Data[i] > 0
		switch {
		case m && g:
			c.TruePositive++
		case m:
			c.FalsePositive++
		case g:
			c.FalseNegative++
		}
	}
	return c, nil
}

// ExtractSlice renders a plane of the volume along the specified axis.
// z is the axial plane, x and y are the orthogonal reformats.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.RGBA, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	rows, cols, depth := v.mask.Rows, v.mask.Cols, v.mask.Depth
	at := func(z, y, x int) color.RGBA {
		idx := z*rows*cols + y*cols + x
		return Classify(v.mask.Data[idx], v.gt.Data[idx])
	}

	var img *image.RGBA
	switch axis {
	case "x", "X":
		if position >= cols {
			return nil, fmt.Errorf("position %d exceeds width %d", position, cols)
		}
		img = image.NewRGBA(image.Rect(0, 0, depth, rows))
		for y := 0; y < rows; y++ {
			for z := 0; z < depth; z++ {
				img.SetRGBA(z, y, at(z, y, position))
			}
		}

	case "y", "Y":
		if position >= rows {
			return nil, fmt.Errorf("position %d exceeds height %d", position, rows)
		}
		img = image.NewRGBA(image.Rect(0, 0, cols, depth))
		for z := 0; z < depth; z++ {
			for x := 0; x < cols; x++ {
				img.SetRGBA(x, z, at(z, position, x))
			}
		}

	case "z", "Z":
		if position >= depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, depth)
		}
		img = image.NewRGBA(image.Rect(0, 0, cols, rows))
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				img.SetRGBA(x, y, at(position, y, x))
			}
		}
		if v.selected[v.sliceIDs[position]] {
			drawFrame(img, ColorCorrected)
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// drawFrame paints the one-pixel border of img
func drawFrame(img *image.RGBA, c color.RGBA) {
	b := img.Bounds()
	for x := b.Min.X; x < b.Max.X; x++ {
		img.SetRGBA(x, b.Min.Y, c)
		img.SetRGBA(x, b.Max.Y-1, c)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		img.SetRGBA(b.Min.X, y, c)
		img.SetRGBA(b.Max.X-1, y, c)
	}
}

// SaveSlice saves a rendered slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence renders and saves every plane along the specified axis.
// Axial files are named by slice id, reformats by position.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.mask.Cols
	case "y", "Y":
		maxPos = v.mask.Rows
	case "z", "Z":
		maxPos = v.mask.Depth
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	var written []string
	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return written, err
		}

		label := pos
		if axis == "z" || axis == "Z" {
			label = v.sliceIDs[pos]
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, label))
		if err := v.SaveSlice(img, filename); err != nil {
			return written, err
		}
		written = append(written, filename)
	}

	return written, nil
}
