// Package cloud holds what the vendor integrations have in common: the
// authenticated-session capability and the error taxonomy. Each vendor keeps
// its own authentication strategy; nothing here signs or sends requests.
package cloud

import "context"

// Session is a vendor API session that can establish its own credentials.
type Session interface {
	// Vendor returns a short, stable name for the vendor, used in logs,
	// metrics and errors.
	Vendor() string

	// Authenticate makes sure the session holds a usable token, acquiring
	// one if it has none. It does not refresh a token that is already held.
	Authenticate(ctx context.Context) error
}

// PowerSource reports the current production of a generator.
type PowerSource interface {
	// ActivePower returns the current active power output in kW.
	ActivePower(ctx context.Context) (float64, error)
}

// SwitchActuator is a remotely controllable on/off switch.
type SwitchActuator interface {
	TurnOn(ctx context.Context, codes ...string) error
	TurnOff(ctx context.Context, codes ...string) error
	Status(ctx context.Context, codes ...string) (map[string]bool, error)
}
