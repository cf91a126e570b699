package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// ModelTypeLogistic tags the persisted model file.
const ModelTypeLogistic = "logistic_regression"

// ErrArtifactMismatch is returned when the model, scaler and schema disagree on width.
var ErrArtifactMismatch = errors.New("artifact mismatch")

// ArtifactNames are the file names of the three artifacts inside a directory.
type ArtifactNames struct {
	Model    string
	Scaler   string
	Features string
}

// ArtifactSet is everything the server needs to score a request.
type ArtifactSet struct {
	Model    *LogisticRegression
	Scaler   *StandardScaler
	Features []string

	// ModelModTime is the model file's modification time; zero until loaded.
	ModelModTime time.Time
}

type modelFile struct {
	ModelType string `json:"model_type"`
	*LogisticRegression
}

// Validate checks that all three artifacts are fitted and the same width.
func (s *ArtifactSet) Validate() error {
	if s == nil || !s.Model.Fitted() {
		return fmt.Errorf("model: %w", ErrNotFitted)
	}
	if !s.Scaler.Fitted() {
		return fmt.Errorf("scaler: %w", ErrNotFitted)
	}
	if len(s.Features) == 0 {
		return fmt.Errorf("features: %w", ErrEmptyInput)
	}
	if s.Model.NumFeatures() != len(s.Features) || s.Scaler.NumFeatures() != len(s.Features) {
		return fmt.Errorf("%w: model has %d coefficients, scaler %d columns, schema %d features",
			ErrArtifactMismatch, s.Model.NumFeatures(), s.Scaler.NumFeatures(), len(s.Features))
	}
	return nil
}

// SaveArtifacts writes the three artifacts as indented JSON. The output only
// depends on the fitted values, so identical fits produce identical files.
func SaveArtifacts(dir string, names ArtifactNames, set *ArtifactSet) error {
	if err := set.Validate(); err != nil {
		return fmt.Errorf("save artifacts: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}

	files := []struct {
		name  string
		value any
	}{
		{names.Model, modelFile{ModelType: ModelTypeLogistic, LogisticRegression: set.Model}},
		{names.Scaler, set.Scaler},
		{names.Features, set.Features},
	}
	for _, f := range files {
		if err := writeJSON(filepath.Join(dir, f.name), f.value); err != nil {
			return err
		}
	}

	log.Info().
		Str("dir", dir).
		Int("features", len(set.Features)).
		Msg("artifacts saved")
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// LoadArtifacts reads and validates the three artifacts from dir.
func LoadArtifacts(dir string, names ArtifactNames) (*ArtifactSet, error) {
	modelPath := filepath.Join(dir, names.Model)

	var mf modelFile
	mf.LogisticRegression = &LogisticRegression{}
	if err := readJSON(modelPath, &mf); err != nil {
		return nil, err
	}
	if mf.ModelType != ModelTypeLogistic {
		return nil, fmt.Errorf("load model: unsupported model type %q", mf.ModelType)
	}

	scaler := &StandardScaler{}
	if err := readJSON(filepath.Join(dir, names.Scaler), scaler); err != nil {
		return nil, err
	}

	var features []string
	if err := readJSON(filepath.Join(dir, names.Features), &features); err != nil {
		return nil, err
	}

	set := &ArtifactSet{Model: mf.LogisticRegression, Scaler: scaler, Features: features}
	if info, err := os.Stat(modelPath); err == nil {
		set.ModelModTime = info.ModTime()
	}
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}

	log.Info().
		Str("dir", dir).
		Int("features", len(features)).
		Int("n_iter", set.Model.NIter).
		Msg("artifacts loaded")
	return set, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
