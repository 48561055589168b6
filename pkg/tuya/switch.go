package tuya

import (
	"context"
	"log/slog"
	"sort"

	"github.com/sunswitch/sunswitch/pkg/cloud"
	"github.com/sunswitch/sunswitch/pkg/log"
)

// DefaultSwitchCode is the function code of the first gang of a switch.
const DefaultSwitchCode = "switch_1"

// Switch controls the gangs of one multi-button smart switch.
type Switch struct {
	client   *Client
	deviceID string
}

var _ cloud.SwitchActuator = (*Switch)(nil)

// NewSwitch binds a device id to a client.
func NewSwitch(client *Client, deviceID string) *Switch {
	return &Switch{client: client, deviceID: deviceID}
}

// DeviceID returns the id of the controlled device.
func (s *Switch) DeviceID() string {
	return s.deviceID
}

// TurnOn turns on every named gang.
func (s *Switch) TurnOn(ctx context.Context, codes ...string) error {
	return s.set(ctx, codes, true)
}

// TurnOff turns off every named gang.
func (s *Switch) TurnOff(ctx context.Context, codes ...string) error {
	return s.set(ctx, codes, false)
}

// TurnCustom sets each named gang to its own state in a single command.
func (s *Switch) TurnCustom(ctx context.Context, states map[string]bool) error {
	if len(states) == 0 {
		return cloud.Invalid("switch codes", "at least one switch is required")
	}
	codes := make([]string, 0, len(states))
	for code := range states {
		codes = append(codes, code)
	}
	// keep the request body stable
	sort.Strings(codes)

	cmds := make([]DataPoint, len(codes))
	for i, code := range codes {
		cmds[i] = DataPoint{Code: code, Value: states[code]}
	}
	return s.client.Command(ctx, s.deviceID, cmds...)
}

// Status returns the on/off state of the named gangs. Gangs the device does
// not report are left out of the result.
func (s *Switch) Status(ctx context.Context, codes ...string) (map[string]bool, error) {
	if len(codes) == 0 {
		return nil, cloud.Invalid("switch codes", "at least one switch is required")
	}
	points, err := s.client.DeviceStatus(ctx, s.deviceID)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		wanted[code] = struct{}{}
	}
	res := make(map[string]bool, len(codes))
	for _, p := range points {
		if _, ok := wanted[p.Code]; !ok {
			continue
		}
		on, ok := p.Value.(bool)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "non-boolean switch value", slog.String("code", p.Code), slog.Any("value", p.Value))
			continue
		}
		res[p.Code] = on
	}
	return res, nil
}

func (s *Switch) set(ctx context.Context, codes []string, on bool) error {
	if len(codes) == 0 {
		return cloud.Invalid("switch codes", "at least one switch is required")
	}
	cmds := make([]DataPoint, len(codes))
	for i, code := range codes {
		cmds[i] = DataPoint{Code: code, Value: on}
	}
	return s.client.Command(ctx, s.deviceID, cmds...)
}
