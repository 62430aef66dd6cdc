package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/weatherflick/weather-flick-batch/internal/domain"
)

// ValueRange bounds one numeric column.
type ValueRange struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// TableQualitySpec declares the checks for one landed table.
type TableQualitySpec struct {
	RequiredColumns        []string              `yaml:"required_columns"`
	DuplicateKeyColumns    []string              `yaml:"duplicate_key_columns"`
	DateColumn             string                `yaml:"date_column"`
	FreshnessThresholdDays int                   `yaml:"freshness_threshold_days"`
	ValueRanges            map[string]ValueRange `yaml:"value_ranges"`
	// Threshold overrides the global pass threshold for this table when > 0.
	Threshold float64 `yaml:"threshold"`
}

// QualityWeights are the per-dimension weights of the overall score.
type QualityWeights struct {
	Completeness float64 `yaml:"completeness"`
	Validity     float64 `yaml:"validity"`
	Consistency  float64 `yaml:"consistency"`
	Freshness    float64 `yaml:"freshness"`
}

// QualityChecks is the whole quality_checks.yaml document.
type QualityChecks struct {
	Weights QualityWeights              `yaml:"weights"`
	Tables  map[string]TableQualitySpec `yaml:"tables"`
}

// LoadQualityChecks reads and validates the quality checks document.
func LoadQualityChecks(path string) (QualityChecks, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return QualityChecks{}, fmt.Errorf("op=config.LoadQualityChecks: %w: %w", domain.ErrConfig, err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return QualityChecks{}, fmt.Errorf("op=config.LoadQualityChecks: %w: %w", domain.ErrConfig, err)
	}
	return ParseQualityChecks(data)
}

// ParseQualityChecks decodes a quality checks document and applies defaults.
func ParseQualityChecks(data []byte) (QualityChecks, error) {
	var qc QualityChecks
	if err := yaml.Unmarshal(data, &qc); err != nil {
		return QualityChecks{}, fmt.Errorf("op=config.ParseQualityChecks: %w: %w", domain.ErrConfig, err)
	}
	if len(qc.Tables) == 0 {
		return QualityChecks{}, fmt.Errorf("op=config.ParseQualityChecks: %w: no tables declared", domain.ErrConfig)
	}
	for name, spec := range qc.Tables {
		if len(spec.RequiredColumns) == 0 {
			return QualityChecks{}, fmt.Errorf("op=config.ParseQualityChecks: %w: table %s has no required_columns", domain.ErrConfig, name)
		}
		for col, r := range spec.ValueRanges {
			if r.Min > r.Max {
				return QualityChecks{}, fmt.Errorf("op=config.ParseQualityChecks: %w: table %s column %s has min > max", domain.ErrConfig, name, col)
			}
		}
	}
	// Unset weights default to equal weighting.
	if qc.Weights == (QualityWeights{}) {
		qc.Weights = QualityWeights{Completeness: 1, Validity: 1, Consistency: 1, Freshness: 1}
	}
	return qc, nil
}
