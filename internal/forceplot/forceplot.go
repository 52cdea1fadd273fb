// Package forceplot renders an additive force plot for a single explanation as a
// self-contained HTML document and manages the on-disk artifact the dashboard embeds.
package forceplot

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"iris-explainer/internal/explain"
)

const (
	plotWidth    = 960.0
	plotHeight   = 170.0
	marginX      = 40.0
	segTop       = 60.0
	segBottom    = 90.0
	axisY        = 120.0
	arrowWidth   = 6.0
	minLabelPx   = 48.0
	tickCount    = 5
	positiveCls  = "positive"
	negativeCls  = "negative"
	valuePrecise = 4
)

type tick struct {
	X     string
	Label string
}

type segment struct {
	Index     int
	Class     string
	Points    string
	Tip       string
	Label     string
	LabelX    string
	ShowLabel bool
}

type row struct {
	Index   int
	Feature string
	Value   string
	Effect  string
	Class   string
}

type payload struct {
	BaseValue    float64   `json:"baseValue"`
	OutputValue  float64   `json:"outValue"`
	OutputName   string    `json:"outputName"`
	FeatureNames []string  `json:"featureNames"`
	Values       []float64 `json:"values"`
	Data         []float64 `json:"data"`
}

type view struct {
	ID         string
	OutputName string
	OutputText string
	BaseText   string

	Width, Height       float64
	PlotLeft, PlotRight float64
	AxisY, TickBottom   float64
	TickLabelY          float64
	SegLabelY           float64
	MarkerTop           float64
	MarkerLabelY        float64
	OutputLabelY        float64
	BaseX, OutputX      string

	Ticks    []tick
	Segments []segment
	Rows     []row
	Payload  payload
}

// Render produces the force-plot HTML for exp. Every call embeds a fresh element id, so two
// renders of the same explanation differ only in that id.
func Render(exp *explain.Explanation) (string, error) {
	return RenderWithID(exp, "fp-"+uuid.NewString())
}

// RenderWithID is Render with a caller-chosen element id.
func RenderWithID(exp *explain.Explanation, id string) (string, error) {
	if exp == nil {
		return "", fmt.Errorf("explanation is nil")
	}
	if err := exp.Validate(); err != nil {
		return "", fmt.Errorf("invalid explanation: %w", err)
	}

	v := layout(exp)
	v.ID = id

	var buf bytes.Buffer
	if err := plotTemplate.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render force plot: %w", err)
	}
	return buf.String(), nil
}

func layout(exp *explain.Explanation) view {
	base := exp.BaseValue
	out := exp.OutputValue()

	// Positive effects stack leftwards from f(x), negative ones rightwards, largest nearest.
	var pos, neg []int
	var sumPos, sumNeg float64
	for i, v := range exp.Values {
		switch {
		case v > 0:
			pos = append(pos, i)
			sumPos += v
		case v < 0:
			neg = append(neg, i)
			sumNeg -= v
		}
	}
	byMagnitude := func(idx []int) {
		sort.SliceStable(idx, func(a, b int) bool {
			return math.Abs(exp.Values[idx[a]]) > math.Abs(exp.Values[idx[b]])
		})
	}
	byMagnitude(pos)
	byMagnitude(neg)

	lo := math.Min(math.Min(base, out), out-sumPos)
	hi := math.Max(math.Max(base, out), out+sumNeg)
	span := hi - lo
	if span == 0 {
		span = 1
	}
	lo -= span * 0.1
	hi += span * 0.1

	left, right := marginX, plotWidth-marginX
	scale := func(x float64) float64 {
		return left + (x-lo)/(hi-lo)*(right-left)
	}

	v := view{
		OutputName:   exp.OutputName,
		OutputText:   formatValue(out),
		BaseText:     formatValue(base),
		Width:        plotWidth,
		Height:       plotHeight,
		PlotLeft:     left,
		PlotRight:    right,
		AxisY:        axisY,
		TickBottom:   axisY + 5,
		TickLabelY:   axisY + 18,
		SegLabelY:    segBottom + 14,
		MarkerTop:    segTop - 20,
		MarkerLabelY: axisY + 34,
		OutputLabelY: segTop - 26,
		BaseX:        px(scale(base)),
		OutputX:      px(scale(out)),
		Payload: payload{
			BaseValue:    base,
			OutputValue:  out,
			OutputName:   exp.OutputName,
			FeatureNames: exp.FeatureNames,
			Values:       exp.Values,
			Data:         exp.Data,
		},
	}

	for i := 0; i < tickCount; i++ {
		val := lo + (hi-lo)*float64(i)/float64(tickCount-1)
		v.Ticks = append(v.Ticks, tick{X: px(scale(val)), Label: strconv.FormatFloat(val, 'g', 3, 64)})
	}

	cursor := out
	for _, i := range pos {
		x1 := scale(cursor)
		cursor -= exp.Values[i]
		x0 := scale(cursor)
		v.Segments = append(v.Segments, newSegment(exp, i, x0, x1, true))
	}
	cursor = out
	for _, i := range neg {
		x0 := scale(cursor)
		cursor -= exp.Values[i]
		x1 := scale(cursor)
		v.Segments = append(v.Segments, newSegment(exp, i, x0, x1, false))
	}

	order := make([]int, len(exp.Values))
	for i := range order {
		order[i] = i
	}
	byMagnitude(order)
	for _, i := range order {
		cls := ""
		switch {
		case exp.Values[i] > 0:
			cls = positiveCls
		case exp.Values[i] < 0:
			cls = negativeCls
		}
		v.Rows = append(v.Rows, row{
			Index:   i,
			Feature: exp.FeatureNames[i],
			Value:   formatValue(exp.Data[i]),
			Effect:  signed(exp.Values[i]),
			Class:   cls,
		})
	}

	return v
}

func newSegment(exp *explain.Explanation, i int, x0, x1 float64, positive bool) segment {
	w := x1 - x0
	a := math.Min(arrowWidth, w/2)
	mid := (segTop + segBottom) / 2

	var pts [][2]float64
	cls := positiveCls
	if positive {
		// chevron pointing right
		pts = [][2]float64{{x0, segTop}, {x1 - a, segTop}, {x1, mid}, {x1 - a, segBottom}, {x0, segBottom}, {x0 + a, mid}}
	} else {
		cls = negativeCls
		pts = [][2]float64{{x0 + a, segTop}, {x1, segTop}, {x1 - a, mid}, {x1, segBottom}, {x0 + a, segBottom}, {x0, mid}}
	}

	parts := make([]string, len(pts))
	for k, p := range pts {
		parts[k] = px(p[0]) + "," + px(p[1])
	}

	label := fmt.Sprintf("%s = %s", exp.FeatureNames[i], formatValue(exp.Data[i]))
	return segment{
		Index:     i,
		Class:     cls,
		Points:    strings.Join(parts, " "),
		Tip:       fmt.Sprintf("%s: %s", label, signed(exp.Values[i])),
		Label:     label,
		LabelX:    px((x0 + x1) / 2),
		ShowLabel: w >= minLabelPx,
	}
}

func px(x float64) string {
	return strconv.FormatFloat(x, 'f', 2, 64)
}

func formatValue(x float64) string {
	return strconv.FormatFloat(x, 'f', valuePrecise-2, 64)
}

func signed(x float64) string {
	if x > 0 {
		return "+" + strconv.FormatFloat(x, 'f', valuePrecise, 64)
	}
	return strconv.FormatFloat(x, 'f', valuePrecise, 64)
}
