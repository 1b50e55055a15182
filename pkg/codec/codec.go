// Package codec converts between pixel-space boxes and the normalized label file format.
//
// A label file holds one record per line:
//
//	classIndex x_center y_center width height
//
// where the four floats are fractions of the image width and height, written with
// 6 decimal places. The class is identified by its position in the project's class list.
package codec

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/menta2k/image-annotator/pkg/types"
)

// ErrInvalidDimensions is returned when a conversion is attempted without known image dimensions
var ErrInvalidDimensions = errors.New("image dimensions must be positive")

// ParseRecords parses the text of a label file.
// Lines that do not hold exactly 5 numeric tokens are dropped without error.
func ParseRecords(text string) []types.Record {
	records := []types.Record{}
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 5 {
			continue
		}
		var v [5]float64
		ok := true
		for i, f := range fields {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil || math.IsNaN(x) {
				ok = false
				break
			}
			v[i] = x
		}
		if !ok {
			continue
		}
		classIndex := -1
		if v[0] == math.Trunc(v[0]) && v[0] >= 0 && v[0] <= math.MaxInt32 {
			classIndex = int(v[0])
		}
		records = append(records, types.Record{
			ClassIndex: classIndex,
			XCenter:    v[1],
			YCenter:    v[2],
			Width:      v[3],
			Height:     v[4],
		})
	}
	return records
}

// FormatRecord renders a single record as one label line (without newline)
func FormatRecord(r types.Record) string {
	return fmt.Sprintf("%d %.6f %.6f %.6f %.6f", r.ClassIndex, r.XCenter, r.YCenter, r.Width, r.Height)
}

// FormatRecords renders records as label file text, LF separated.
func FormatRecords(records []types.Record) string {
	lines := make([]string, len(records))
	for i, r := range records {
		lines[i] = FormatRecord(r)
	}
	return strings.Join(lines, "\n")
}

// ClassOf returns the class name at index, or types.UnknownClass if index is out of range
func ClassOf(classes []string, index int) string {
	if index < 0 || index >= len(classes) {
		return types.UnknownClass
	}
	return classes[index]
}

// IndexOf returns the position of class in classes, or -1
func IndexOf(classes []string, class string) int {
	for i, c := range classes {
		if c == class {
			return i
		}
	}
	return -1
}

// Denormalize converts label records into pixel-space boxes for an image of the given size
func Denormalize(records []types.Record, imageWidth, imageHeight int, classes []string) ([]types.Box, error) {
	if imageWidth <= 0 || imageHeight <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, imageWidth, imageHeight)
	}
	fw, fh := float64(imageWidth), float64(imageHeight)
	boxes := make([]types.Box, 0, len(records))
	for _, r := range records {
		w := r.Width * fw
		h := r.Height * fh
		boxes = append(boxes, types.Box{
			X:      r.XCenter*fw - w/2,
			Y:      r.YCenter*fh - h/2,
			Width:  w,
			Height: h,
			Class:  ClassOf(classes, r.ClassIndex),
		})
	}
	return boxes, nil
}

// Normalize converts pixel-space boxes into label records.
// A box whose class is not in classes is left out of the result. This is deliberate: the
// label format can only refer to classes by index, so such a box has no representation.
func Normalize(boxes []types.Box, imageWidth, imageHeight int, classes []string) ([]types.Record, error) {
	if imageWidth <= 0 || imageHeight <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, imageWidth, imageHeight)
	}
	fw, fh := float64(imageWidth), float64(imageHeight)
	records := make([]types.Record, 0, len(boxes))
	for _, b := range boxes {
		idx := IndexOf(classes, b.Class)
		if idx == -1 {
			continue
		}
		records = append(records, types.Record{
			ClassIndex: idx,
			XCenter:    (b.X + b.Width/2) / fw,
			YCenter:    (b.Y + b.Height/2) / fh,
			Width:      b.Width / fw,
			Height:     b.Height / fh,
		})
	}
	return records, nil
}

// DecodeLabels parses label file text and denormalizes it in one step
func DecodeLabels(text string, imageWidth, imageHeight int, classes []string) ([]types.Box, error) {
	return Denormalize(ParseRecords(text), imageWidth, imageHeight, classes)
}

// EncodeLabels normalizes boxes and renders them as label file text.
// The second return value is the number of boxes that were dropped because of an unknown class.
func EncodeLabels(boxes []types.Box, imageWidth, imageHeight int, classes []string) (string, int, error) {
	records, err := Normalize(boxes, imageWidth, imageHeight, classes)
	if err != nil {
		return "", 0, err
	}
	return FormatRecords(records), len(boxes) - len(records), nil
}
