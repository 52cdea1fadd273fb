package common

import "time"

// Feature column names, in the order the model was trained on
const (
	FeatureSepalLength = "sepal length (cm)"
	FeatureSepalWidth  = "sepal width (cm)"
	FeaturePetalLength = "petal length (cm)"
	FeaturePetalWidth  = "petal width (cm)"
)

// FeatureNames returns the model input schema in column order.
func FeatureNames() []string {
	return []string{FeatureSepalLength, FeatureSepalWidth, FeaturePetalLength, FeaturePetalWidth}
}

// Environment variable keys
const (
	EnvConfigFile      = "CONFIG_FILE"
	EnvListenAddr      = "LISTEN_ADDR"
	EnvModelPath       = "MODEL_PATH"
	EnvArtifactPath    = "ARTIFACT_PATH"
	EnvPlotHeight      = "PLOT_HEIGHT"
	EnvOutputIndex     = "OUTPUT_INDEX"
	EnvDataPath        = "DATA_PATH"
	EnvStatsPath       = "STATS_PATH"
	EnvLogLevel        = "LOG_LEVEL"
	EnvLogFormat       = "LOG_FORMAT"
	EnvReadTimeout     = "READ_TIMEOUT"
	EnvWriteTimeout    = "WRITE_TIMEOUT"
	EnvShutdownTimeout = "SHUTDOWN_TIMEOUT"
	EnvEnableWebSocket = "ENABLE_WEBSOCKET"
	EnvServerURL       = "EXPLAINER_URL"
)

// Configuration defaults
const (
	DefaultListenAddr      = ":8501"
	DefaultModelFile       = "xgboost_model.json"
	DefaultArtifactPath    = "shap_force_plot.html"
	DefaultPlotHeight      = 600
	DefaultOutputIndex     = 0
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultServerURL       = "http://localhost:8501"
	DefaultHistoryLimit    = 20
	DefaultTopFeatures     = 4
	DefaultStatsFile       = "attribution_stats.json"
	DefaultHistoryDatabase = "predictions.db"
)

// Server timeouts
const (
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultClientTimeout   = 15 * time.Second
)

// Input slider bounds
const (
	MinInputValue     = 0.0
	MaxInputValue     = 10.0
	InputStep         = 0.1
	DefaultInputValue = 5.0
)

// Validation constants
const (
	MinPlotHeight  = 100
	MaxPlotHeight  = 4000
	MaxOutputIndex = 1024
	MaxHistory     = 1000
)
