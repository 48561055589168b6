package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/sunswitch/sunswitch/pkg/cloud"
	"github.com/sunswitch/sunswitch/pkg/log"
	"github.com/sunswitch/sunswitch/pkg/metrics"
	"github.com/sunswitch/sunswitch/pkg/storage"
	"github.com/sunswitch/sunswitch/pkg/types"
)

// DefaultInterval is the time between automation cycles.
const DefaultInterval = 5 * time.Minute

// ErrDisabled is returned by RunOnce when the automation is turned off.
var ErrDisabled = errors.New("automation is disabled")

// readingSource is a power source that can report a full reading. Readings
// are stored alongside actions when the source supports it.
type readingSource interface {
	Reading(ctx context.Context) (types.Reading, error)
}

// Automation periodically reads the inverter and drives the switch.
type Automation struct {
	source     cloud.PowerSource
	actuator   cloud.SwitchActuator
	storage    storage.Database
	controller *Controller
	metrics    *metrics.Registry
	interval   time.Duration

	// runMu serializes cycles and state changes
	runMu sync.Mutex

	mu     sync.Mutex
	status types.Status

	kick chan struct{}
}

// NewAutomation creates an Automation. A non-positive interval uses
// DefaultInterval.
func NewAutomation(
	source cloud.PowerSource,
	actuator cloud.SwitchActuator,
	db storage.Database,
	interval time.Duration,
	reg *metrics.Registry,
) *Automation {
	a := &Automation{
		source:     source,
		actuator:   actuator,
		storage:    db,
		controller: NewController(),
		metrics:    reg,
		kick:       make(chan struct{}, 1),
	}
	a.setInterval(interval)
	return a
}

// Configured sets up flags for the automation and returns it.
func Configured(source cloud.PowerSource, actuator cloud.SwitchActuator, db storage.Database, reg *metrics.Registry) *Automation {
	interval := lflag.Duration("automation-interval", DefaultInterval, "Time between automation cycles")

	a := NewAutomation(source, actuator, db, DefaultInterval, reg)
	lflag.Do(func() {
		if *interval <= 0 {
			panic("automation-interval must be positive")
		}
		a.setInterval(*interval)
	})
	return a
}

func (a *Automation) setInterval(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	a.interval = interval
	a.mu.Lock()
	a.status.Interval = interval
	a.mu.Unlock()
}

// Status returns a snapshot of the automation state.
func (a *Automation) Status() types.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

func (a *Automation) updateStatus(fn func(s *types.Status)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(&a.status)
}

// Kick asks the loop to run a cycle now instead of waiting for the interval.
func (a *Automation) Kick() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

// Run runs a cycle immediately and then once per interval until ctx is
// cancelled. Cycle errors are logged and do not stop the loop.
func (a *Automation) Run(ctx context.Context) error {
	a.updateStatus(func(s *types.Status) { s.Running = true })
	defer a.updateStatus(func(s *types.Status) { s.Running = false })

	a.restoreStatus(ctx)
	log.Ctx(ctx).InfoContext(ctx, "automation started", slog.Duration("interval", a.interval))

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		if _, err := a.RunOnce(ctx); err != nil && !errors.Is(err, ErrDisabled) && ctx.Err() == nil {
			log.Ctx(ctx).ErrorContext(ctx, "automation cycle failed", slog.Any("error", err))
		}

		select {
		case <-ctx.Done():
			log.Ctx(ctx).InfoContext(ctx, "automation stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-a.kick:
			ticker.Reset(a.interval)
		}
	}
}

// restoreStatus fills an empty status from the last stored action so the
// status survives a restart.
func (a *Automation) restoreStatus(ctx context.Context) {
	if !a.Status().LastRun.IsZero() {
		return
	}
	action, err := a.storage.GetLatestAction(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to get latest action", slog.Any("error", err))
		return
	}
	if action == nil {
		return
	}
	a.updateStatus(func(s *types.Status) {
		if !s.LastRun.IsZero() {
			return
		}
		s.LastRun = action.Timestamp
		s.LastError = action.Error
		s.SwitchOn = switchStateAfter(*action)
		// a failed read may not have a power value
		if action.Reason != types.ActionReasonReadFailed || action.ActivePowerKW != 0 {
			kw := action.ActivePowerKW
			s.LastActivePowerKW = &kw
		}
	})
	log.Ctx(ctx).DebugContext(ctx, "restored status from latest action", slog.Time("lastRun", action.Timestamp))
}

// switchStateAfter is the state the switch was left in by action, nil when
// unknown.
func switchStateAfter(action types.Action) *bool {
	switch {
	case action.Sent:
		on := action.SwitchOn
		return &on
	case action.Failed:
		return nil
	default:
		return action.PreviousOn
	}
}

// RunOnce runs a single automation cycle: read the inverter, decide, command
// the switch if needed and record the action. It returns ErrDisabled without
// touching either device when the automation is off.
func (a *Automation) RunOnce(ctx context.Context) (types.Action, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	settings, err := a.Settings(ctx)
	if err != nil {
		a.recordError(err)
		return types.Action{}, err
	}
	a.updateStatus(func(s *types.Status) {
		s.Enabled = settings.Enabled
		s.TriggerKW = settings.TriggerKW
	})
	if !settings.Enabled {
		log.Ctx(ctx).DebugContext(ctx, "automation disabled, skipping cycle")
		return types.Action{}, ErrDisabled
	}

	activeKW, err := a.readPower(ctx)
	if err != nil {
		action := a.failedRead(ctx, settings, nil, fmt.Errorf("failed to read inverter: %w", err))
		return action, err
	}

	status, err := a.actuator.Status(ctx, settings.SwitchCodes...)
	if err != nil {
		action := a.failedRead(ctx, settings, &activeKW, fmt.Errorf("failed to read switch: %w", err))
		return action, err
	}
	previousOn := combinedState(status, settings.SwitchCodes)

	decision := a.controller.Decide(ctx, activeKW, previousOn, settings)
	action := decision.Action

	current := previousOn
	var cmdErr error
	if decision.Send {
		cmdErr = a.command(ctx, action.SwitchOn, settings.SwitchCodes)
		if cmdErr != nil {
			action.Failed = true
			action.Error = cmdErr.Error()
			// the switch state is unknown after a failed command
			current = nil
		} else {
			action.Sent = true
			on := action.SwitchOn
			current = &on
		}
	}

	a.insertAction(ctx, action)
	a.metrics.ControllerRun(action.Timestamp, activeKW)
	a.updateStatus(func(s *types.Status) {
		s.LastRun = action.Timestamp
		s.LastActivePowerKW = &activeKW
		s.SwitchOn = current
		s.LastError = action.Error
	})

	if cmdErr != nil {
		return action, fmt.Errorf("failed to switch %s: %w", onOff(action.SwitchOn), cmdErr)
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"automation cycle complete",
		slog.Float64("activeKW", activeKW),
		slog.Bool("switchOn", action.SwitchOn),
		slog.Bool("sent", action.Sent),
	)
	return action, nil
}

// SetState turns the automation on or off and optionally changes the
// trigger. Turning it off always switches the switch off.
func (a *Automation) SetState(ctx context.Context, enabled bool, triggerKW *float64) (types.Settings, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	settings, err := a.Settings(ctx)
	if err != nil {
		return types.Settings{}, err
	}
	settings.Enabled = enabled
	if triggerKW != nil {
		settings.TriggerKW = *triggerKW
	}
	if err := a.save(ctx, settings); err != nil {
		return types.Settings{}, err
	}
	log.Ctx(ctx).InfoContext(ctx, "automation state changed", slog.Bool("enabled", enabled), slog.Float64("triggerKW", settings.TriggerKW))

	if enabled {
		a.Kick()
		return settings, nil
	}
	return settings, a.switchOff(ctx, settings)
}

// SaveSettings validates and stores new settings. Disabling a running
// automation switches the switch off, enabling it runs a cycle right away.
func (a *Automation) SaveSettings(ctx context.Context, settings types.Settings) (types.Settings, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	current, err := a.Settings(ctx)
	if err != nil {
		return types.Settings{}, err
	}
	if err := a.save(ctx, settings); err != nil {
		return types.Settings{}, err
	}

	switch {
	case settings.Enabled:
		a.Kick()
	case current.Enabled:
		return settings, a.switchOff(ctx, settings)
	}
	return settings, nil
}

func (a *Automation) save(ctx context.Context, settings types.Settings) error {
	if err := settings.Validate(); err != nil {
		return cloud.Invalid("settings", err.Error())
	}
	if err := a.storage.SetSettings(ctx, settings, types.CurrentSettingsVersion); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	a.updateStatus(func(s *types.Status) {
		s.Enabled = settings.Enabled
		s.TriggerKW = settings.TriggerKW
	})
	return nil
}

// switchOff turns the switch off and records it, whatever state the switch
// last reported.
func (a *Automation) switchOff(ctx context.Context, settings types.Settings) error {
	settings.Enabled = false
	decision := a.controller.Decide(ctx, 0, nil, settings)
	action := decision.Action
	if status := a.Status(); status.LastActivePowerKW != nil {
		action.ActivePowerKW = *status.LastActivePowerKW
	}
	var cmdErr error
	if decision.Send {
		cmdErr = a.command(ctx, false, settings.SwitchCodes)
		if cmdErr != nil {
			action.Failed = true
			action.Error = cmdErr.Error()
		} else {
			action.Sent = true
		}
	}
	a.insertAction(ctx, action)
	a.updateStatus(func(s *types.Status) {
		if action.Sent {
			off := false
			s.SwitchOn = &off
		} else if action.Failed {
			s.SwitchOn = nil
		}
		s.LastError = action.Error
	})
	if cmdErr != nil {
		return fmt.Errorf("failed to switch off: %w", cmdErr)
	}
	return nil
}

// Settings returns the stored settings, migrated to the current version.
func (a *Automation) Settings(ctx context.Context) (types.Settings, error) {
	settings, version, err := a.storage.GetSettings(ctx)
	if err != nil {
		return types.Settings{}, fmt.Errorf("failed to get settings: %w", err)
	}
	settings, migrated, err := types.MigrateSettings(settings, version)
	if err != nil {
		return types.Settings{}, fmt.Errorf("failed to migrate settings: %w", err)
	}
	if migrated {
		log.Ctx(ctx).InfoContext(ctx, "migrated settings", slog.Int("from", version), slog.Int("to", types.CurrentSettingsVersion))
		if err := a.storage.SetSettings(ctx, settings, types.CurrentSettingsVersion); err != nil {
			// keep going with the migrated copy
			log.Ctx(ctx).WarnContext(ctx, "failed to save migrated settings", slog.Any("error", err))
		}
	}
	return settings, nil
}

// readPower reads the inverter, storing the full reading when the source
// provides one.
func (a *Automation) readPower(ctx context.Context) (float64, error) {
	rs, ok := a.source.(readingSource)
	if !ok {
		return a.source.ActivePower(ctx)
	}
	reading, err := rs.Reading(ctx)
	if err != nil {
		return 0, err
	}
	if err := a.storage.InsertReading(ctx, reading); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to insert reading", slog.Any("error", err))
	}
	return reading.ActivePowerKW, nil
}

func (a *Automation) command(ctx context.Context, on bool, codes []string) error {
	var err error
	if on {
		err = a.actuator.TurnOn(ctx, codes...)
	} else {
		err = a.actuator.TurnOff(ctx, codes...)
	}
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to command switch", slog.Bool("on", on), slog.Any("error", err))
		return err
	}
	a.metrics.SwitchAction(on)
	return nil
}

// failedRead records a cycle that could not read one of the devices. The
// switch is left alone.
func (a *Automation) failedRead(ctx context.Context, settings types.Settings, activeKW *float64, err error) types.Action {
	log.Ctx(ctx).ErrorContext(ctx, "automation read failed", slog.Any("error", err))
	action := types.Action{
		Timestamp:   a.controller.now(),
		Reason:      types.ActionReasonReadFailed,
		SwitchCodes: settings.SwitchCodes,
		TriggerKW:   settings.TriggerKW,
		Description: "Read failed, switch left unchanged",
		DryRun:      settings.DryRun,
		Failed:      true,
		Error:       err.Error(),
	}
	if activeKW != nil {
		action.ActivePowerKW = *activeKW
	}
	a.insertAction(ctx, action)
	a.updateStatus(func(s *types.Status) {
		s.LastRun = action.Timestamp
		s.LastActivePowerKW = activeKW
		s.SwitchOn = nil
		s.LastError = action.Error
	})
	return action
}

func (a *Automation) recordError(err error) {
	a.updateStatus(func(s *types.Status) { s.LastError = err.Error() })
}

func (a *Automation) insertAction(ctx context.Context, action types.Action) {
	if err := a.storage.InsertAction(ctx, action); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to insert action", slog.Any("error", err))
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
