// Package storage provides persistent data storage for the churn service.
// It uses BoltDB as the underlying storage engine to keep an audit trail of
// served predictions and a history of training runs.
//
// Keys start with a zero-padded nanosecond timestamp so cursor scans return
// records in time order.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"churn-service/internal/features"
)

const (
	predictionsBucket  = "predictions"   // Bucket name for served predictions
	trainingRunsBucket = "training_runs" // Bucket name for training run summaries

	// DBFile is the database file created inside the data path.
	DBFile = "churn-data.db"
)

// PredictionRecord is one served prediction.
type PredictionRecord struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	Input       features.CustomerInput `json:"input"`
	Probability float64                `json:"churn_probability"`
	RiskLevel   string                 `json:"risk_level"`
	Prediction  string                 `json:"churn_prediction"`
}

// ModelScore is one model's held-out result within a training run.
type ModelScore struct {
	Name       string  `json:"name"`
	Accuracy   float64 `json:"accuracy"`
	F1Positive float64 `json:"f1_positive"`
}

// FeatureWeight is a feature's permutation importance within a training run.
type FeatureWeight struct {
	Name       string  `json:"name"`
	Importance float64 `json:"importance"`
}

// TrainingRun summarizes one execution of the training pipeline.
type TrainingRun struct {
	ID          string          `json:"id"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
	DataPath    string          `json:"data_path"`
	ArtifactDir string          `json:"artifact_dir"`
	Seed        int64           `json:"seed"`
	Rows        int             `json:"rows"`
	DroppedRows int             `json:"dropped_rows"`
	TrainRows   int             `json:"train_rows"`
	TestRows    int             `json:"test_rows"`
	Features    int             `json:"features"`
	Models      []ModelScore    `json:"models"`
	TopFeatures []FeatureWeight `json:"top_features,omitempty"`
}

// Store provides persistent storage using BoltDB.
type Store struct {
	db *bbolt.DB // BoltDB database instance
}

// New creates a new storage instance with the specified data path.
// It initializes the BoltDB database and creates necessary buckets.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, DBFile)

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(predictionsBucket)); err != nil {
			return fmt.Errorf("create predictions bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(trainingRunsBucket)); err != nil {
			return fmt.Errorf("create training runs bucket: %w", err)
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
		return s.db.Close()
	}
	return nil
}

// nanos clamps ts into the range where UnixNano is defined and non-negative.
func nanos(ts time.Time) int64 {
	switch {
	case ts.Before(minKeyTime):
		return 0
	case ts.After(maxKeyTime):
		return maxKeyTime.UnixNano()
	}
	return ts.UnixNano()
}

var (
	minKeyTime = time.Unix(0, 0)
	maxKeyTime = time.Unix(0, math.MaxInt64)
)

func timeKey(ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%020d_%s", nanos(ts), id))
}

func timeBound(ts time.Time) []byte {
	return []byte(fmt.Sprintf("%020d", nanos(ts)))
}

func (s *Store) put(bucket string, key []byte, v any) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))

		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s record: %w", bucket, err)
		}
		return b.Put(key, data)
	})
}

// scan visits records in [start, end] in key order. Malformed records are skipped.
func (s *Store) scan(bucket string, start, end time.Time, visit func([]byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucket)).Cursor()

		endKey := timeBound(end)
		for k, v := c.Seek(timeBound(start)); k != nil; k, v = c.Next() {
			if bytes.Compare(k[:len(endKey)], endKey) > 0 {
				break
			}
			_ = visit(v) // Skip malformed records
		}
		return nil
	})
}

// StorePrediction appends a served prediction. Missing ID and timestamp are filled in.
func (s *Store) StorePrediction(rec PredictionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	return s.put(predictionsBucket, timeKey(rec.Timestamp, rec.ID), rec)
}

// GetPredictions returns predictions with timestamps in [start, end], oldest first.
func (s *Store) GetPredictions(start, end time.Time) ([]PredictionRecord, error) {
	var out []PredictionRecord
	err := s.scan(predictionsBucket, start, end, func(data []byte) error {
		var rec PredictionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StoreTrainingRun records a finished training run and returns its ID.
func (s *Store) StoreTrainingRun(run TrainingRun) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if err := s.put(trainingRunsBucket, timeKey(run.StartedAt, run.ID), run); err != nil {
		return "", err
	}
	return run.ID, nil
}

// ListTrainingRuns returns every recorded run, oldest first.
func (s *Store) ListTrainingRuns() ([]TrainingRun, error) {
	var out []TrainingRun
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(trainingRunsBucket)).ForEach(func(_, v []byte) error {
			var run TrainingRun
			if err := json.Unmarshal(v, &run); err != nil {
				return nil // Skip malformed records
			}
			out = append(out, run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
