package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Instrument describes per-symbol trading parameters in YAML.
type Instrument struct {
	Symbol   string `yaml:"symbol"`
	TickSize string `yaml:"tick_size"` // exact decimal string
}

// ScaleStep maps a daily-P&L threshold to a position scale factor.
type ScaleStep struct {
	ThresholdPct float64 `yaml:"threshold_pct"`
	Scale        float64 `yaml:"scale"`
}

// GuardOverrides carries optional profit-guard tuning from YAML.
type GuardOverrides struct {
	Steps                []ScaleStep `yaml:"steps"`
	LockAtPct            *float64    `yaml:"lock_at_pct"`
	TrailDistancePct     *float64    `yaml:"trail_distance_pct"`
	DailyLossLimitPct    *float64    `yaml:"daily_loss_limit_pct"`
	MaxConsecutiveLosses *int        `yaml:"max_consecutive_losses"`
	MaxPositionPct       *float64    `yaml:"max_position_pct"`
}

// InstrumentsFile is the top-level YAML structure.
type InstrumentsFile struct {
	Instruments []Instrument    `yaml:"instruments"`
	ProfitGuard *GuardOverrides `yaml:"profit_guard"`
}

// LoadInstruments reads instrument and guard settings from a YAML file.
func LoadInstruments(path string) (*InstrumentsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instruments file: %w", err)
	}

	var file InstrumentsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse instruments file: %w", err)
	}
	return &file, nil
}
