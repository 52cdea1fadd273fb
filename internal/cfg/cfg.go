package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"iris-explainer/internal/common"
)

type Settings struct {
	ListenAddr      string
	ModelPath       string
	ArtifactPath    string
	PlotHeight      int
	OutputIndex     int
	DataPath        string
	StatsPath       string
	LogLevel        string
	LogFormat       string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	EnableWebSocket bool
}

type ConfigFile struct {
	Server struct {
		ListenAddr      string `yaml:"listenAddr"`
		ReadTimeout     string `yaml:"readTimeout"`
		WriteTimeout    string `yaml:"writeTimeout"`
		ShutdownTimeout string `yaml:"shutdownTimeout"`
		EnableWebSocket *bool  `yaml:"enableWebSocket"`
	} `yaml:"server"`

	Model struct {
		Path        string `yaml:"path"`
		OutputIndex *int   `yaml:"outputIndex"`
	} `yaml:"model"`

	Plot struct {
		ArtifactPath string `yaml:"artifactPath"`
		Height       int    `yaml:"height"`
	} `yaml:"plot"`

	Storage struct {
		DataPath  string `yaml:"dataPath"`
		StatsPath string `yaml:"statsPath"`
	} `yaml:"storage"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Load reads an optional .env file from the working directory, then builds settings from
// the YAML file named by CONFIG_FILE (with environment overrides) or from the environment
// alone.
func Load() (Settings, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return Settings{}, err
	}

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	return loadFromEnv()
}

// LoadDotEnv exports the variables in path without overriding ones already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	readTimeout, err := parseDurationOr(config.Server.ReadTimeout, common.DefaultReadTimeout)
	if err != nil {
		return Settings{}, fmt.Errorf("server.readTimeout: %w", err)
	}
	writeTimeout, err := parseDurationOr(config.Server.WriteTimeout, common.DefaultWriteTimeout)
	if err != nil {
		return Settings{}, fmt.Errorf("server.writeTimeout: %w", err)
	}
	shutdownTimeout, err := parseDurationOr(config.Server.ShutdownTimeout, common.DefaultShutdownTimeout)
	if err != nil {
		return Settings{}, fmt.Errorf("server.shutdownTimeout: %w", err)
	}

	outputIndex := common.DefaultOutputIndex
	if config.Model.OutputIndex != nil {
		outputIndex = *config.Model.OutputIndex
	}
	enableWS := true
	if config.Server.EnableWebSocket != nil {
		enableWS = *config.Server.EnableWebSocket
	}

	// Override with environment variables if they exist
	settings := Settings{
		ListenAddr:      getEnvOrDefault(common.EnvListenAddr, orDefault(config.Server.ListenAddr, common.DefaultListenAddr)),
		ModelPath:       getEnvOrDefault(common.EnvModelPath, config.Model.Path),
		ArtifactPath:    getEnvOrDefault(common.EnvArtifactPath, orDefault(config.Plot.ArtifactPath, common.DefaultArtifactPath)),
		PlotHeight:      getIntFromEnvOrConfig(common.EnvPlotHeight, config.Plot.Height, common.DefaultPlotHeight),
		OutputIndex:     getIntOrDefault(common.EnvOutputIndex, outputIndex),
		DataPath:        getEnvOrDefault(common.EnvDataPath, config.Storage.DataPath),
		StatsPath:       getEnvOrDefault(common.EnvStatsPath, config.Storage.StatsPath),
		LogLevel:        getEnvOrDefault(common.EnvLogLevel, orDefault(config.Logging.Level, common.DefaultLogLevel)),
		LogFormat:       getEnvOrDefault(common.EnvLogFormat, orDefault(config.Logging.Format, common.DefaultLogFormat)),
		ReadTimeout:     getDurationOrDefault(common.EnvReadTimeout, readTimeout),
		WriteTimeout:    getDurationOrDefault(common.EnvWriteTimeout, writeTimeout),
		ShutdownTimeout: getDurationOrDefault(common.EnvShutdownTimeout, shutdownTimeout),
		EnableWebSocket: getBoolOrDefault(common.EnvEnableWebSocket, enableWS),
	}

	return finish(settings)
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		ListenAddr:      getEnvOrDefault(common.EnvListenAddr, common.DefaultListenAddr),
		ModelPath:       os.Getenv(common.EnvModelPath),
		ArtifactPath:    getEnvOrDefault(common.EnvArtifactPath, common.DefaultArtifactPath),
		PlotHeight:      getIntOrDefault(common.EnvPlotHeight, common.DefaultPlotHeight),
		OutputIndex:     getIntOrDefault(common.EnvOutputIndex, common.DefaultOutputIndex),
		DataPath:        os.Getenv(common.EnvDataPath), // optional
		StatsPath:       os.Getenv(common.EnvStatsPath),
		LogLevel:        getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		LogFormat:       getEnvOrDefault(common.EnvLogFormat, common.DefaultLogFormat),
		ReadTimeout:     getDurationOrDefault(common.EnvReadTimeout, common.DefaultReadTimeout),
		WriteTimeout:    getDurationOrDefault(common.EnvWriteTimeout, common.DefaultWriteTimeout),
		ShutdownTimeout: getDurationOrDefault(common.EnvShutdownTimeout, common.DefaultShutdownTimeout),
		EnableWebSocket: getBoolOrDefault(common.EnvEnableWebSocket, true),
	}

	return finish(settings)
}

func finish(settings Settings) (Settings, error) {
	if settings.ModelPath == "" {
		settings.ModelPath = DefaultModelPath()
	}
	if settings.StatsPath == "" && settings.DataPath != "" {
		settings.StatsPath = filepath.Join(settings.DataPath, common.DefaultStatsFile)
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// DefaultModelPath is xgboost_model.json next to the running executable, falling back to the
// working directory when the executable cannot be located.
func DefaultModelPath() string {
	exe, err := os.Executable()
	if err != nil {
		return common.DefaultModelFile
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), common.DefaultModelFile)
}

// HistoryEnabled reports whether predictions are persisted.
func (s *Settings) HistoryEnabled() bool {
	return s.DataPath != ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func orDefault(v, defaultValue string) string {
	if v != "" {
		return v
	}
	return defaultValue
}

func parseDurationOr(v string, defaultValue time.Duration) (time.Duration, error) {
	if v == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(v)
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

// validateSettings performs comprehensive validation of configuration values
func validateSettings(settings *Settings) error {
	if settings.ListenAddr == "" || !strings.Contains(settings.ListenAddr, ":") {
		return fmt.Errorf("listen address must be host:port, got %q", settings.ListenAddr)
	}
	if settings.ModelPath == "" {
		return fmt.Errorf("model path cannot be empty")
	}
	if settings.ArtifactPath == "" {
		return fmt.Errorf("artifact path cannot be empty")
	}

	if settings.PlotHeight < common.MinPlotHeight || settings.PlotHeight > common.MaxPlotHeight {
		return fmt.Errorf("plot height must be between %d and %d, got %d", common.MinPlotHeight, common.MaxPlotHeight, settings.PlotHeight)
	}
	if settings.OutputIndex < 0 || settings.OutputIndex > common.MaxOutputIndex {
		return fmt.Errorf("output index must be between 0 and %d, got %d", common.MaxOutputIndex, settings.OutputIndex)
	}

	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}
	if settings.LogFormat != "json" && settings.LogFormat != "console" {
		return fmt.Errorf("log format must be json or console, got %q", settings.LogFormat)
	}

	if settings.ReadTimeout < time.Second || settings.ReadTimeout > 10*time.Minute {
		return fmt.Errorf("read timeout must be between 1s and 10m, got %v", settings.ReadTimeout)
	}
	if settings.WriteTimeout < time.Second || settings.WriteTimeout > 10*time.Minute {
		return fmt.Errorf("write timeout must be between 1s and 10m, got %v", settings.WriteTimeout)
	}
	if settings.ShutdownTimeout < time.Second || settings.ShutdownTimeout > 5*time.Minute {
		return fmt.Errorf("shutdown timeout must be between 1s and 5m, got %v", settings.ShutdownTimeout)
	}

	return nil
}
