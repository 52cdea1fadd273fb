package ml

import (
	"fmt"
	"math"

	"iris-explainer/internal/common"
)

// Input holds the four flower measurements collected from the form.
type Input struct {
	SepalLength float64 `json:"sepal_length"`
	SepalWidth  float64 `json:"sepal_width"`
	PetalLength float64 `json:"petal_length"`
	PetalWidth  float64 `json:"petal_width"`
}

// DefaultInput returns the slider defaults.
func DefaultInput() Input {
	return Input{
		SepalLength: common.DefaultInputValue,
		SepalWidth:  common.DefaultInputValue,
		PetalLength: common.DefaultInputValue,
		PetalWidth:  common.DefaultInputValue,
	}
}

// Clamp bounds every measurement to the slider range. NaN collapses to the minimum.
func (in Input) Clamp() Input {
	return Input{
		SepalLength: clamp(in.SepalLength),
		SepalWidth:  clamp(in.SepalWidth),
		PetalLength: clamp(in.PetalLength),
		PetalWidth:  clamp(in.PetalWidth),
	}
}

// Values returns the measurements in schema order.
func (in Input) Values() []float64 {
	return []float64{in.SepalLength, in.SepalWidth, in.PetalLength, in.PetalWidth}
}

// Frame assembles the input into a single-row frame with the training column names.
func (in Input) Frame() Frame {
	return Frame{
		Columns: common.FeatureNames(),
		Rows:    [][]float64{in.Values()},
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < common.MinInputValue {
		return common.MinInputValue
	}
	if v > common.MaxInputValue {
		return common.MaxInputValue
	}
	return v
}

// Frame is a small column-named table of feature rows.
type Frame struct {
	Columns []string    `json:"columns"`
	Rows    [][]float64 `json:"rows"`
}

// NumRows returns the number of rows in the frame.
func (f Frame) NumRows() int {
	return len(f.Rows)
}

// Row returns row i, or an error when it does not exist or its width disagrees with the columns.
func (f Frame) Row(i int) ([]float64, error) {
	if i < 0 || i >= len(f.Rows) {
		return nil, fmt.Errorf("row %d out of range (%d rows)", i, len(f.Rows))
	}
	row := f.Rows[i]
	if len(row) != len(f.Columns) {
		return nil, fmt.Errorf("row %d has %d values for %d columns", i, len(row), len(f.Columns))
	}
	return row, nil
}

// Record returns row i keyed by column name.
func (f Frame) Record(i int) (map[string]float64, error) {
	row, err := f.Row(i)
	if err != nil {
		return nil, err
	}
	rec := make(map[string]float64, len(row))
	for j, name := range f.Columns {
		rec[name] = row[j]
	}
	return rec, nil
}
