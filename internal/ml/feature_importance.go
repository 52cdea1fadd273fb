package ml

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// FeatureImportance aggregates local attributions into a global view of which features drive
// predictions.
type FeatureImportance struct {
	mu             sync.RWMutex
	featureNames   []string
	importanceData map[string]*FeatureStats
	enabled        bool
	savePath       string
}

// FeatureStats contains statistics for a single feature
type FeatureStats struct {
	Name                string    `json:"name"`
	ImportanceScore     float64   `json:"importance_score"` // mean absolute contribution
	UsageCount          int64     `json:"usage_count"`
	AverageValue        float64   `json:"average_value"`
	AverageContribution float64   `json:"average_contribution"`
	MinContribution     float64   `json:"min_contribution"`
	MaxContribution     float64   `json:"max_contribution"`
	LastUpdated         time.Time `json:"last_updated"`
}

// FeatureImportanceConfig configures feature importance tracking
type FeatureImportanceConfig struct {
	Enabled      bool     `yaml:"enabled"`
	FeatureNames []string `yaml:"feature_names"`
	SavePath     string   `yaml:"save_path"`
}

// NewFeatureImportance creates a new feature importance tracker
func NewFeatureImportance(config FeatureImportanceConfig) *FeatureImportance {
	fi := &FeatureImportance{
		featureNames:   append([]string(nil), config.FeatureNames...),
		importanceData: make(map[string]*FeatureStats),
		enabled:        config.Enabled,
		savePath:       config.SavePath,
	}

	for _, name := range config.FeatureNames {
		fi.importanceData[name] = &FeatureStats{Name: name}
	}

	if config.SavePath != "" {
		if err := fi.Load(); err != nil {
			log.Warn().Err(err).Str("path", config.SavePath).Msg("Failed to load feature importance data")
		}
	}

	return fi
}

// Update folds one explained prediction into the running statistics. values are the raw inputs
// and contributions the attribution values, both in feature order.
func (fi *FeatureImportance) Update(values, contributions []float64) {
	if fi == nil || !fi.enabled {
		return
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()

	now := time.Now()
	for i, c := range contributions {
		if i >= len(fi.featureNames) {
			break
		}

		stats := fi.importanceData[fi.featureNames[i]]
		stats.UsageCount++
		n := float64(stats.UsageCount)

		if stats.UsageCount == 1 {
			stats.MinContribution = c
			stats.MaxContribution = c
		} else {
			stats.MinContribution = math.Min(stats.MinContribution, c)
			stats.MaxContribution = math.Max(stats.MaxContribution, c)
		}

		stats.ImportanceScore += (math.Abs(c) - stats.ImportanceScore) / n
		stats.AverageContribution += (c - stats.AverageContribution) / n
		if i < len(values) {
			stats.AverageValue += (values[i] - stats.AverageValue) / n
		}
		stats.LastUpdated = now
	}
}

// GetFeatureImportance returns a snapshot of the per-feature statistics.
func (fi *FeatureImportance) GetFeatureImportance() map[string]*FeatureStats {
	if fi == nil || !fi.enabled {
		return nil
	}

	fi.mu.RLock()
	defer fi.mu.RUnlock()

	result := make(map[string]*FeatureStats, len(fi.importanceData))
	for name, stats := range fi.importanceData {
		statsCopy := *stats
		result[name] = &statsCopy
	}

	return result
}

// GetTopFeatures returns the n features with the largest mean absolute contribution.
func (fi *FeatureImportance) GetTopFeatures(n int) []string {
	if fi == nil || !fi.enabled {
		return nil
	}

	fi.mu.RLock()
	defer fi.mu.RUnlock()

	names := append([]string(nil), fi.featureNames...)
	sort.SliceStable(names, func(i, j int) bool {
		return fi.importanceData[names[i]].ImportanceScore > fi.importanceData[names[j]].ImportanceScore
	})

	if n > len(names) {
		n = len(names)
	}
	if n < 0 {
		n = 0
	}
	return names[:n]
}

// Save saves the feature importance data to disk
func (fi *FeatureImportance) Save() error {
	if fi == nil || !fi.enabled || fi.savePath == "" {
		return nil
	}

	fi.mu.RLock()
	defer fi.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(fi.savePath), 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(fi.importanceData, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(fi.savePath, data, 0o600)
}

// Load loads feature importance data from disk. Entries for features the tracker was not
// configured with are ignored.
func (fi *FeatureImportance) Load() error {
	if fi == nil || !fi.enabled || fi.savePath == "" {
		return nil
	}

	data, err := os.ReadFile(fi.savePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var loaded map[string]*FeatureStats
	if err := json.Unmarshal(data, &loaded); err != nil {
		return err
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()

	for name, stats := range loaded {
		if _, ok := fi.importanceData[name]; !ok || stats == nil {
			continue
		}
		stats.Name = name
		fi.importanceData[name] = stats
	}

	return nil
}

// IsEnabled returns whether feature importance tracking is enabled
func (fi *FeatureImportance) IsEnabled() bool {
	return fi != nil && fi.enabled
}

// Reset resets all feature importance data
func (fi *FeatureImportance) Reset() {
	if fi == nil || !fi.enabled {
		return
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()

	for name := range fi.importanceData {
		fi.importanceData[name] = &FeatureStats{Name: name}
	}
}
