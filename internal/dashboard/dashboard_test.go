package dashboard

import (
	"context"
	"encoding/json"
	"html"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iris-explainer/internal/common"
	"iris-explainer/internal/forceplot"
	"iris-explainer/internal/metrics"
	"iris-explainer/internal/ml"
	"iris-explainer/internal/storage"
	"iris-explainer/internal/workflow"
)

var fixtureModel = filepath.Join("..", "..", "testdata", "xgboost_model.json")

type testEnv struct {
	dash     *Dashboard
	handler  http.Handler
	metrics  *metrics.Metrics
	artifact *forceplot.Artifact
}

func newTestEnv(t *testing.T, withHistory bool) *testEnv {
	t.Helper()

	booster, err := ml.LoadBooster(fixtureModel)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(registry)
	wrapper := metrics.NewWrapper(m)

	predictor, err := ml.NewPredictor(booster, wrapper)
	require.NoError(t, err)

	artifact := forceplot.NewArtifact(filepath.Join(t.TempDir(), common.DefaultArtifactPath))
	opts := workflow.Options{
		Predictor: predictor,
		Artifact:  artifact,
		Stats:     ml.NewFeatureImportance(ml.FeatureImportanceConfig{Enabled: true, FeatureNames: common.FeatureNames()}),
		Metrics:   wrapper,
	}
	if withHistory {
		store, err := storage.New(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		opts.History = store
	}

	svc, err := workflow.New(opts)
	require.NoError(t, err)

	d := New(svc, Options{
		PlotHeight:      common.DefaultPlotHeight,
		EnableWebSocket: true,
		Metrics:         m,
		Gatherer:        registry,
	})
	return &testEnv{dash: d, handler: d.Handler(), metrics: m, artifact: artifact}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestIndex_DefaultSliders(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, "XGBoost Model Prediction")
	assert.Contains(t, body, "Input Features")
	assert.Contains(t, body, ">Predict</button>")
	for _, name := range []string{"sepal_length", "sepal_width", "petal_length", "petal_width"} {
		assert.Contains(t, body, `name="`+name+`" min="0" max="10" step="0.1" value="5.0"`)
	}
	assert.NotContains(t, body, "Prediction:")
	assert.NotContains(t, body, "<iframe")
}

func TestIndex_QueryPrefill(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/?petal_length=1.4&sepal_width=12", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, `name="petal_length" min="0" max="10" step="0.1" value="1.4"`)
	assert.Contains(t, body, `name="sepal_width" min="0" max="10" step="0.1" value="10.0"`)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/?petal_length=long", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func postForm(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestPredictForm(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, postForm(url.Values{
		"sepal_length": {"5.1"},
		"sepal_width":  {"3.5"},
		"petal_length": {"1.4"},
		"petal_width":  {"0.2"},
	}))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()

	assert.Contains(t, body, "Prediction: 0")
	assert.Contains(t, body, "Force plot of the model prediction")
	assert.Contains(t, body, `height="600"`)

	// the frame embeds exactly what is on disk
	onDisk, err := env.artifact.Read()
	require.NoError(t, err)
	start := strings.Index(body, `srcdoc="`)
	require.GreaterOrEqual(t, start, 0)
	rest := body[start+len(`srcdoc="`):]
	embedded := html.UnescapeString(rest[:strings.Index(rest, `"`)])
	assert.Equal(t, onDisk, embedded)
}

func TestPredictForm_DefaultsAndErrors(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, postForm(url.Values{}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Prediction: 2")

	rec = env.do(t, postForm(url.Values{"sepal_length": {"abc"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictAPI(t *testing.T) {
	env := newTestEnv(t, false)

	body := `{"sepal_length": 6.7, "sepal_width": 3.0, "petal_length": 5.2, "petal_width": 2.3}`
	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var res workflow.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "2", res.Label)
	require.NotNil(t, res.Explanation)
	assert.Len(t, res.Explanation.Values, 4)
	assert.Empty(t, res.PlotHTML)

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/predict?include_html=true", strings.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, strings.HasPrefix(res.PlotHTML, "<!DOCTYPE html>"))
}

func TestPredictAPI_PartialAndInvalid(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(`{"petal_length": 1.0}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var res workflow.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 5.0, res.Input.SepalLength)
	assert.Equal(t, 1.0, res.Input.PetalLength)

	rec = env.do(t, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(`{not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var errResp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.NotEmpty(t, errResp.Error)
}

func TestModelAPI(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/model", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info modelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "multi:softprob", info.Objective)
	assert.Equal(t, 3, info.NumOutputs)
	assert.Equal(t, 3, info.NumTrees)
	assert.Equal(t, common.FeatureNames(), info.FeatureNames)
	assert.Equal(t, 0, info.OutputIndex)
}

func TestImportanceAPI(t *testing.T) {
	env := newTestEnv(t, false)

	env.do(t, postForm(url.Values{}))

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/importance?top=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp importanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Top, 2)
	assert.Len(t, resp.Features, 4)
	assert.Equal(t, int64(1), resp.Features[common.FeaturePetalLength].UsageCount)

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/importance?top=0", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistoryAPI(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, false)
		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/history", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		env := newTestEnv(t, true)

		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/history", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"records": []}`, rec.Body.String())

		for i := 0; i < 3; i++ {
			env.do(t, postForm(url.Values{}))
		}

		rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/history?limit=2", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var resp historyResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Len(t, resp.Records, 2)
		assert.Equal(t, "2", resp.Records[0].Label)

		rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/history?limit=5000", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	env.do(t, postForm(url.Values{}))

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ml_predictions_total 1")
	assert.Contains(t, rec.Body.String(), "force_plot_writes_total 1")

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.HTTPRequests.WithLabelValues("/predict", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.HTTPRequests.WithLabelValues("/health", "2xx")))
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/predict", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWebSocket(t *testing.T) {
	env := newTestEnv(t, false)
	server := httptest.NewServer(env.handler)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"sepal_length":5.1,"sepal_width":3.5,"petal_length":1.4,"petal_width":0.2}`)))
	var res workflow.Result
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, "0", res.Label)
	assert.Empty(t, res.PlotHTML)
	assert.Len(t, res.Contributions, 4)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`nope`)))
	var errResp errorResponse
	require.NoError(t, conn.ReadJSON(&errResp))
	assert.Contains(t, errResp.Error, "invalid JSON")

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.WSClients))
}

func TestWebSocket_Disabled(t *testing.T) {
	d := New(nil, Options{EnableWebSocket: false, Gatherer: prometheus.NewRegistry()})

	rec := httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseInput(t *testing.T) {
	in, err := parseInput(url.Values{"sepal_length": {"-1"}, "petal_width": {"2.5"}})
	require.NoError(t, err)
	assert.Equal(t, ml.Input{SepalLength: 0, SepalWidth: 5, PetalLength: 5, PetalWidth: 2.5}, in)

	_, err = parseInput(url.Values{"petal_width": {"x"}})
	assert.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	d := New(nil, Options{Gatherer: prometheus.NewRegistry()})
	assert.Equal(t, ":8501", d.Addr())
	assert.Equal(t, 600, d.plotHeight)
}

func TestListenAndServe_Shutdown(t *testing.T) {
	env := newTestEnv(t, false)
	env.dash.server.Addr = "127.0.0.1:0"

	done := make(chan error, 1)
	go func() { done <- env.dash.ListenAndServe() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.dash.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return after Shutdown")
	}
}
