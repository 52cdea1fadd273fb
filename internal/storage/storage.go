// Package storage provides persistent prediction history for the iris explainer.
// It uses BoltDB as the underlying storage engine; each record holds the slider
// input, the predicted label and the attribution that was shown for it.
//
// Keys are zero-padded timestamps, so cursor order is chronological and range
// queries are plain seeks.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"iris-explainer/internal/common"
	"iris-explainer/internal/explain"
	"iris-explainer/internal/ml"
)

const predictionsBucket = "predictions"

// PredictionRecord is one persisted prediction.
type PredictionRecord struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	Input         ml.Input               `json:"input"`
	Label         string                 `json:"label"`
	Scores        []float64              `json:"scores,omitempty"`
	OutputIndex   int                    `json:"output_index"`
	BaseValue     float64                `json:"base_value"`
	OutputValue   float64                `json:"output_value"`
	Contributions []explain.Contribution `json:"contributions,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// Store provides persistent storage for predictions using BoltDB.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the history database under dataPath.
func New(dataPath string) (*Store, error) {
	if err := os.MkdirAll(dataPath, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	dbPath := filepath.Join(dataPath, common.DefaultHistoryDatabase)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(predictionsBucket)); err != nil {
			return fmt.Errorf("create predictions bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

// StorePrediction persists rec, filling in ID and Timestamp when they are empty.
// The stored record is returned.
func (s *Store) StorePrediction(rec PredictionRecord) (PredictionRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(predictionsBucket))

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal prediction: %w", err)
		}

		return b.Put(recordKey(rec.Timestamp, rec.ID), data)
	})
	if err != nil {
		return PredictionRecord{}, err
	}
	return rec, nil
}

// Recent returns up to n records, newest first.
func (s *Store) Recent(n int) ([]PredictionRecord, error) {
	if n <= 0 {
		return nil, nil
	}

	records := make([]PredictionRecord, 0, n)
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(predictionsBucket)).Cursor()
		for k, v := c.Last(); k != nil && len(records) < n; k, v = c.Prev() {
			var rec PredictionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue // skip malformed records
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

// GetPredictionsInRange returns records with start <= timestamp <= end, oldest first.
func (s *Store) GetPredictionsInRange(start, end time.Time) ([]PredictionRecord, error) {
	var records []PredictionRecord

	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(predictionsBucket)).Cursor()
		startKey := timeKey(start)
		endKey := timeKey(end.Add(time.Nanosecond))

		for k, v := c.Seek(startKey); k != nil && string(k) < string(endKey); k, v = c.Next() {
			var rec PredictionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		return nil
	})

	return records, err
}

// Count returns the number of stored predictions.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket([]byte(predictionsBucket)).Stats().KeyN
		return nil
	})
	return n, err
}

func timeKey(ts time.Time) []byte {
	return []byte(fmt.Sprintf("%019d", ts.UnixNano()))
}

func recordKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%019d_%s", ts.UnixNano(), id))
}
