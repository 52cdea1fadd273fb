package ml

import (
	"math"
	"testing"
)

func TestInput_FrameSchema(t *testing.T) {
	inputs := []Input{
		{0, 0, 0, 0},
		{10, 10, 10, 10},
		{5.1, 3.5, 1.4, 0.2},
		DefaultInput(),
	}
	want := []string{"sepal length (cm)", "sepal width (cm)", "petal length (cm)", "petal width (cm)"}

	for _, in := range inputs {
		f := in.Frame()
		if f.NumRows() != 1 {
			t.Fatalf("expected exactly one row, got %d", f.NumRows())
		}
		if len(f.Columns) != 4 {
			t.Fatalf("expected 4 columns, got %d", len(f.Columns))
		}
		for i, name := range want {
			if f.Columns[i] != name {
				t.Errorf("column %d: expected %q, got %q", i, name, f.Columns[i])
			}
		}
		row, err := f.Row(0)
		if err != nil {
			t.Fatalf("Row(0): %v", err)
		}
		if row[0] != in.SepalLength || row[1] != in.SepalWidth || row[2] != in.PetalLength || row[3] != in.PetalWidth {
			t.Errorf("row values %v do not match input %+v", row, in)
		}
	}
}

func TestFrame_Record(t *testing.T) {
	rec, err := Input{SepalLength: 5.1, SepalWidth: 3.5, PetalLength: 1.4, PetalWidth: 0.2}.Frame().Record(0)
	if err != nil {
		t.Fatalf("Record(0): %v", err)
	}

	want := map[string]float64{
		"sepal length (cm)": 5.1,
		"sepal width (cm)":  3.5,
		"petal length (cm)": 1.4,
		"petal width (cm)":  0.2,
	}
	for k, v := range want {
		if rec[k] != v {
			t.Errorf("%s: expected %v, got %v", k, v, rec[k])
		}
	}

	if _, err := (Frame{}).Record(0); err == nil {
		t.Error("expected error for missing row")
	}
}

func TestInput_Clamp(t *testing.T) {
	got := Input{SepalLength: -1, SepalWidth: 11, PetalLength: math.NaN(), PetalWidth: 4.2}.Clamp()
	want := Input{SepalLength: 0, SepalWidth: 10, PetalLength: 0, PetalWidth: 4.2}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestDefaultInput(t *testing.T) {
	for i, v := range DefaultInput().Values() {
		if v != 5.0 {
			t.Errorf("value %d: expected default 5.0, got %v", i, v)
		}
	}
}
