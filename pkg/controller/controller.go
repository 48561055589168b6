package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sunswitch/sunswitch/pkg/log"
	"github.com/sunswitch/sunswitch/pkg/types"
)

// Decision represents the result of the decision logic.
type Decision struct {
	Action types.Action
	// Send is true when the switch must be commanded to reach Action.SwitchOn.
	Send bool
}

// Controller handles the decision-making logic for the switch.
type Controller struct {
	now func() time.Time
}

// NewController creates a new Controller.
func NewController() *Controller {
	return &Controller{now: time.Now}
}

// Decide determines the switch state for the current inverter output. The
// switch is on when the active power is at or above the trigger. previousOn
// is the state the switch last reported, nil when unknown.
func (c *Controller) Decide(
	ctx context.Context,
	activeKW float64,
	previousOn *bool,
	settings types.Settings,
) Decision {
	action := types.Action{
		Timestamp:     c.now(),
		PreviousOn:    previousOn,
		SwitchCodes:   settings.SwitchCodes,
		ActivePowerKW: activeKW,
		TriggerKW:     settings.TriggerKW,
		DryRun:        settings.DryRun,
	}

	switch {
	case !settings.Enabled:
		action.Reason = types.ActionReasonDisabled
		action.SwitchOn = false
		action.Description = "Automation disabled, switch off"
	case activeKW >= settings.TriggerKW:
		action.Reason = types.ActionReasonAboveTrigger
		action.SwitchOn = true
		action.Description = fmt.Sprintf("Active power %.3f kW at or above trigger %.3f kW", activeKW, settings.TriggerKW)
	default:
		action.Reason = types.ActionReasonBelowTrigger
		action.SwitchOn = false
		action.Description = fmt.Sprintf("Active power %.3f kW below trigger %.3f kW", activeKW, settings.TriggerKW)
	}

	send := settings.AlwaysSend || previousOn == nil || *previousOn != action.SwitchOn
	if settings.DryRun {
		send = false
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"controller decided",
		slog.Float64("activeKW", activeKW),
		slog.Float64("triggerKW", settings.TriggerKW),
		slog.String("reason", string(action.Reason)),
		slog.Bool("switchOn", action.SwitchOn),
		slog.Bool("send", send),
		slog.Bool("dryRun", settings.DryRun),
	)

	return Decision{Action: action, Send: send}
}

// combinedState folds the per-code status into one state. It is nil when a
// code is missing or the codes disagree.
func combinedState(status map[string]bool, codes []string) *bool {
	if len(codes) == 0 {
		return nil
	}
	var state *bool
	for _, code := range codes {
		on, ok := status[code]
		if !ok {
			return nil
		}
		if state != nil && *state != on {
			return nil
		}
		state = &on
	}
	return state
}
