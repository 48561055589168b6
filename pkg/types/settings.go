package types

import (
	"errors"
	"fmt"
	"math"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 1

// DefaultSwitchCode is the gang toggled when no codes are configured.
const DefaultSwitchCode = "switch_1"

// Settings represents the configuration stored in the database.
// These are dynamic settings that can be changed without redeploying.
type Settings struct {
	// Enabled runs the automation. Disabling it turns the switch off once.
	Enabled bool `json:"enabled"`
	// DryRun decides and records actions without commanding the switch.
	DryRun bool `json:"dryRun"`

	// TriggerKW is the inverter active power (in kW) at or above which the
	// switch is turned on.
	TriggerKW float64 `json:"triggerKW"`

	// SwitchCodes are the gangs of the switch that are toggled together.
	SwitchCodes []string `json:"switchCodes"`

	// AlwaysSend sends the command every cycle even when the switch already
	// reports the decided state.
	AlwaysSend bool `json:"alwaysSend"`
}

// Validate checks the settings can drive the automation.
func (s Settings) Validate() error {
	if math.IsNaN(s.TriggerKW) || math.IsInf(s.TriggerKW, 0) {
		return errors.New("triggerKW must be a number")
	}
	if s.TriggerKW < 0 {
		return fmt.Errorf("triggerKW must not be negative: %v", s.TriggerKW)
	}
	if len(s.SwitchCodes) == 0 {
		return errors.New("at least one switch code is required")
	}
	for _, code := range s.SwitchCodes {
		if code == "" {
			return errors.New("switch codes must not be empty")
		}
	}
	return nil
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if len(s.SwitchCodes) == 0 {
				s.SwitchCodes = []string{DefaultSwitchCode}
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
