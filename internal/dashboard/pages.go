package dashboard

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"

	"iris-explainer/internal/common"
	"iris-explainer/internal/ml"
	"iris-explainer/internal/workflow"
)

type slider struct {
	Name  string
	Label string
	Value string
	Min   float64
	Max   float64
	Step  float64
}

type pageData struct {
	Sliders    []slider
	Submitted  bool
	Label      string
	Error      string
	PlotHTML   string
	PlotHeight int
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>XGBoost Model Prediction</title>
<style>
  body { margin: 0; font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; color: #262730; display: flex; min-height: 100vh; }
  aside { width: 300px; background: #f0f2f6; padding: 24px; box-sizing: border-box; }
  main { flex: 1; padding: 32px 48px; }
  h1 { margin-top: 0; }
  .field { margin-bottom: 20px; }
  .field label { display: flex; justify-content: space-between; font-size: 14px; margin-bottom: 6px; }
  .field input[type=range] { width: 100%; accent-color: #ff4b4b; }
  button { background: #fff; border: 1px solid #d6d6d9; border-radius: 8px; padding: 8px 16px; font-size: 15px; cursor: pointer; }
  button:hover { border-color: #ff4b4b; color: #ff4b4b; }
  .result { margin-top: 24px; font-size: 16px; }
  .error { margin-top: 24px; padding: 12px 16px; background: #ffe5e5; color: #7d1a1a; border-radius: 6px; }
  iframe { width: 100%; border: none; }
</style>
</head>
<body>
<form method="post" action="/predict" id="predict-form">
</form>
<aside>
  <h2>Input Features</h2>
  {{range .Sliders}}<div class="field">
    <label for="{{.Name}}"><span>{{.Label}}</span><output id="{{.Name}}-value">{{.Value}}</output></label>
    <input form="predict-form" type="range" id="{{.Name}}" name="{{.Name}}" min="{{.Min}}" max="{{.Max}}" step="{{.Step}}" value="{{.Value}}"
      oninput="document.getElementById(this.id + '-value').value = Number(this.value).toFixed(1)">
  </div>
  {{end}}
</aside>
<main>
  <h1>XGBoost Model Prediction</h1>
  <button type="submit" form="predict-form">Predict</button>
  {{if .Submitted}}
    {{if .Label}}<p class="result">Prediction: {{.Label}}</p>{{end}}
    {{if .Error}}<div class="error">{{.Error}}</div>{{end}}
    {{if .PlotHTML}}
    <h3>Force plot of the model prediction</h3>
    <iframe title="force plot" height="{{.PlotHeight}}" srcdoc="{{.PlotHTML}}"></iframe>
    {{end}}
  {{end}}
</main>
</body>
</html>
`))

// sliderSpecs lists the form fields in model column order.
var sliderSpecs = []struct {
	name  string
	label string
}{
	{"sepal_length", "Sepal length (cm)"},
	{"sepal_width", "Sepal width (cm)"},
	{"petal_length", "Petal length (cm)"},
	{"petal_width", "Petal width (cm)"},
}

func sliders(in ml.Input) []slider {
	values := in.Values()
	out := make([]slider, len(sliderSpecs))
	for i, s := range sliderSpecs {
		out[i] = slider{
			Name:  s.name,
			Label: s.label,
			Value: strconv.FormatFloat(values[i], 'f', 1, 64),
			Min:   common.MinInputValue,
			Max:   common.MaxInputValue,
			Step:  common.InputStep,
		}
	}
	return out
}

// parseInput reads slider values from form or query values. Missing fields keep their default;
// present but unparsable ones are an error. The result is clamped to the slider range.
func parseInput(values url.Values) (ml.Input, error) {
	in := ml.DefaultInput()
	targets := []*float64{&in.SepalLength, &in.SepalWidth, &in.PetalLength, &in.PetalWidth}

	for i, s := range sliderSpecs {
		raw := values.Get(s.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return ml.Input{}, fmt.Errorf("%s: %q is not a number", s.name, raw)
		}
		*targets[i] = v
	}
	return in.Clamp(), nil
}

func (d *Dashboard) handleIndex(w http.ResponseWriter, r *http.Request) {
	in, err := parseInput(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.renderPage(w, http.StatusOK, pageData{Sliders: sliders(in), PlotHeight: d.plotHeight})
}

func (d *Dashboard) handlePredictForm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	in, err := parseInput(r.PostForm)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data := pageData{Sliders: sliders(in), Submitted: true, PlotHeight: d.plotHeight}
	status := http.StatusOK

	res, err := d.svc.Run(r.Context(), in)
	if res != nil {
		data.Label = res.Label
		data.PlotHTML = res.PlotHTML
	}
	if err != nil {
		status = http.StatusInternalServerError
		data.Error = failureMessage(err)
		log.Error().Err(err).Msg("Prediction request failed")
	}

	d.renderPage(w, status, data)
}

func (d *Dashboard) renderPage(w http.ResponseWriter, status int, data pageData) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, data); err != nil {
		log.Error().Err(err).Msg("Failed to render page")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, workflow.ErrExplanation):
		return "The prediction succeeded but the force plot could not be produced: " + err.Error()
	case errors.Is(err, workflow.ErrPrediction):
		return "Prediction failed: " + err.Error()
	default:
		return err.Error()
	}
}
