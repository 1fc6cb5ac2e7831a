package config

import (
	"encoding/json"
	"fmt"

	"github.com/chewxy/math32"
	"go.uber.org/multierr"

	"gopilot/flight"
	"gopilot/flight/attitude"
)

// LoadConfig parses a JSON configuration and returns a validated ControllerConfig
func LoadConfig(jsonData []byte) (*flight.ControllerConfig, error) {
	var config flight.ControllerConfig

	err := json.Unmarshal(jsonData, &config)
	if err != nil {
		return nil, fmt.Errorf("parse controller config: %w", err)
	}

	// Validate before defaults so explicit bad values are not masked
	if err := Validate(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	return &config, nil
}

// applyDefaults fills in missing configuration values
func applyDefaults(config *flight.ControllerConfig) {
	if config.RefreshInterval == 0 {
		config.RefreshInterval = attitude.DefaultRefreshInterval
	}
	if config.OutputLimit == 0 {
		config.OutputLimit = attitude.DefaultOutputLimit
	}
	if config.IntegralLimit == 0 {
		config.IntegralLimit = attitude.DefaultIntegralLimit
	}
	if config.LoopPeriodUS == 0 {
		config.LoopPeriodUS = attitude.DefaultLoopPeriodUS
	}

	// User gains override the built-in ones
	params := attitude.DefaultParams()
	for name, value := range config.Params {
		params[name] = value
	}
	config.Params = params
}

// Validate reports every problem found in config. Zero values are allowed
// and mean "use the default".
func Validate(config *flight.ControllerConfig) error {
	var err error

	if !finite(config.OutputLimit) || config.OutputLimit < 0 {
		err = multierr.Append(err, fmt.Errorf("output_limit must be a non-negative number, got %v", config.OutputLimit))
	}
	if !finite(config.IntegralLimit) || config.IntegralLimit < 0 {
		err = multierr.Append(err, fmt.Errorf("integral_limit must be a non-negative number, got %v", config.IntegralLimit))
	}
	if config.LoopPeriodUS != 0 && config.LoopPeriodUS < MinLoopPeriodUS {
		err = multierr.Append(err, fmt.Errorf("loop_period_us must be at least %d, got %d", MinLoopPeriodUS, config.LoopPeriodUS))
	}

	for name, value := range config.Params {
		if !knownParam(name) {
			err = multierr.Append(err, fmt.Errorf("unknown parameter %q", name))
			continue
		}
		if !finite(value) {
			err = multierr.Append(err, fmt.Errorf("parameter %q is not finite", name))
		}
	}

	return err
}

// MinLoopPeriodUS is the shortest control period the firmware loop accepts
const MinLoopPeriodUS = 500

// DefaultConfig returns the built-in controller configuration
func DefaultConfig() *flight.ControllerConfig {
	return attitude.DefaultConfig()
}

func knownParam(name string) bool {
	for _, n := range attitude.ParamNames {
		if n == name {
			return true
		}
	}
	return false
}

func finite(f float32) bool {
	return !math32.IsNaN(f) && !math32.IsInf(f, 0)
}
