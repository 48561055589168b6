package types

import "time"

// Reading is one sample of the inverter's real time data.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"deviceID"`

	ActivePowerKW     float64 `json:"activePowerKW"`
	ReactivePowerKVar float64 `json:"reactivePowerKVar"`
	TemperatureC      float64 `json:"temperatureC"`
	// PV string 1 input
	InputVoltage float64 `json:"inputVoltage"`
	InputCurrent float64 `json:"inputCurrent"`
}

// ActionReason represents why the controller chose a switch state.
type ActionReason string

const (
	ActionReasonAboveTrigger ActionReason = "aboveTrigger"
	ActionReasonBelowTrigger ActionReason = "belowTrigger"
	ActionReasonDisabled     ActionReason = "disabled"
	ActionReasonReadFailed   ActionReason = "readFailed"
)

// Action represents a control decision made by the system.
type Action struct {
	Timestamp time.Time    `json:"timestamp"`
	Reason    ActionReason `json:"reason"`
	// SwitchOn is the decided state of the switch.
	SwitchOn bool `json:"switchOn"`
	// PreviousOn is the state the switch reported before the decision, if it
	// could be read.
	PreviousOn    *bool    `json:"previousOn,omitempty"`
	SwitchCodes   []string `json:"switchCodes"`
	Sent          bool     `json:"sent"`
	ActivePowerKW float64  `json:"activePowerKW"`
	TriggerKW     float64  `json:"triggerKW"`
	Description   string   `json:"description"`
	DryRun        bool     `json:"dryRun,omitempty"`
	Failed        bool     `json:"failed,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// Status is the automation state reported by the API.
type Status struct {
	Enabled   bool          `json:"enabled"`
	Running   bool          `json:"running"`
	TriggerKW float64       `json:"triggerKW"`
	Interval  time.Duration `json:"interval"`

	LastRun           time.Time `json:"lastRun"`
	LastActivePowerKW *float64  `json:"lastActivePowerKW,omitempty"`
	SwitchOn          *bool     `json:"switchOn,omitempty"`
	LastError         string    `json:"lastError,omitempty"`
}
