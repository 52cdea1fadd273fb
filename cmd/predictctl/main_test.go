package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iris-explainer/internal/ml"
)

type stubServer struct {
	mu       sync.Mutex
	lastBody ml.Input
	lastURL  string
}

func (s *stubServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.lastURL = r.URL.String()
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/api/predict":
		var in ml.Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.lastBody = in
		s.mu.Unlock()
		w.Write([]byte(`{"id":"abc","label":"1","scores":[0.1,0.8,0.1],"margins":[-1,1,-1],
			"explanation":{"values":[0.1,-0.2,-0.5,-0.4],"base_value":0,"output_index":0},
			"contributions":[{"feature":"petal length (cm)","value":4.5,"effect":-0.5}],
			"plot_html":"<!DOCTYPE html><p>plot</p>"}`))
	case "/api/model":
		w.Write([]byte(`{"objective":"multi:softprob","num_outputs":3,"num_trees":30,"max_depth":3,"output_index":0}`))
	case "/api/importance":
		w.Write([]byte(`{"features":{"petal length (cm)":{"importance_score":0.7,"usage_count":3}},"top":["petal length (cm)"]}`))
	case "/api/history":
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"prediction history is disabled"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs(args)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPredictCommand(t *testing.T) {
	stub := &stubServer{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	out, err := run(t, "predict", "--server", srv.URL, "--petal-length", "4.5", "--petal-width", "1.5")
	require.NoError(t, err)

	assert.Contains(t, out, "Prediction: 1")
	assert.Contains(t, out, "petal length (cm)")
	assert.Contains(t, out, "-0.5000")

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, ml.Input{SepalLength: 5, SepalWidth: 5, PetalLength: 4.5, PetalWidth: 1.5}, stub.lastBody)
	assert.NotContains(t, stub.lastURL, "include_html")
}

func TestPredictCommand_SavesHTML(t *testing.T) {
	stub := &stubServer{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "plot.html")
	out, err := run(t, "predict", "--server", srv.URL, "--html", path)
	require.NoError(t, err)
	assert.Contains(t, out, "force plot written to "+path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<!DOCTYPE html><p>plot</p>", string(data))

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Contains(t, stub.lastURL, "include_html=true")
}

func TestPredictCommand_JSON(t *testing.T) {
	srv := httptest.NewServer(&stubServer{})
	defer srv.Close()

	out, err := run(t, "predict", "--server", srv.URL, "--json")
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "1", decoded["label"])
}

func TestModelAndImportanceCommands(t *testing.T) {
	stub := &stubServer{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	out, err := run(t, "model", "--server", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "multi:softprob")
	assert.Contains(t, out, "30 (max depth 3)")

	out, err = run(t, "importance", "--server", srv.URL, "--top", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "1. petal length (cm)")
	assert.Contains(t, out, "(3 uses)")

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Contains(t, stub.lastURL, "top=1")
}

func TestHistoryCommand_Disabled(t *testing.T) {
	srv := httptest.NewServer(&stubServer{})
	defer srv.Close()

	_, err := run(t, "history", "--server", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "prediction history is disabled")
}

func TestServerFromEnv(t *testing.T) {
	t.Setenv("EXPLAINER_URL", "http://example.invalid:9000")

	root := newRootCmd(io.Discard)
	flag := root.PersistentFlags().Lookup("server")
	require.NotNil(t, flag)
	assert.Equal(t, "http://example.invalid:9000", flag.DefValue)
}
