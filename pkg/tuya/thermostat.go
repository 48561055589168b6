package tuya

import (
	"context"
	"fmt"

	"github.com/sunswitch/sunswitch/pkg/cloud"
)

// Thermostat function codes.
const (
	ThermostatPowerCode   = "switch"
	ThermostatCurrentCode = "temp_current"
	ThermostatTargetCode  = "temp_set"
	ThermostatWindowCode  = "window_check"
	ThermostatFrostCode   = "frost"
)

// Thermostat controls a radiator thermostat. Temperatures are in the
// device's own unit, usually tenths of a degree.
type Thermostat struct {
	client   *Client
	deviceID string
}

// NewThermostat binds a device id to a client.
func NewThermostat(client *Client, deviceID string) *Thermostat {
	return &Thermostat{client: client, deviceID: deviceID}
}

// TurnOn switches the thermostat on.
func (t *Thermostat) TurnOn(ctx context.Context) error {
	return t.client.Command(ctx, t.deviceID, DataPoint{Code: ThermostatPowerCode, Value: true})
}

// TurnOff switches the thermostat off.
func (t *Thermostat) TurnOff(ctx context.Context) error {
	return t.client.Command(ctx, t.deviceID, DataPoint{Code: ThermostatPowerCode, Value: false})
}

// SetWindowCheck enables or disables open window detection.
func (t *Thermostat) SetWindowCheck(ctx context.Context, on bool) error {
	return t.client.Command(ctx, t.deviceID, DataPoint{Code: ThermostatWindowCode, Value: on})
}

// SetFrostProtection enables or disables frost protection.
func (t *Thermostat) SetFrostProtection(ctx context.Context, on bool) error {
	return t.client.Command(ctx, t.deviceID, DataPoint{Code: ThermostatFrostCode, Value: on})
}

// RoomTemperature returns the measured room temperature.
func (t *Thermostat) RoomTemperature(ctx context.Context) (float64, error) {
	return t.number(ctx, ThermostatCurrentCode)
}

// TargetTemperature returns the configured target temperature.
func (t *Thermostat) TargetTemperature(ctx context.Context) (float64, error) {
	return t.number(ctx, ThermostatTargetCode)
}

// SetTargetTemperature sets the target temperature.
func (t *Thermostat) SetTargetTemperature(ctx context.Context, temp int) error {
	return t.client.Command(ctx, t.deviceID, DataPoint{Code: ThermostatTargetCode, Value: temp})
}

func (t *Thermostat) number(ctx context.Context, code string) (float64, error) {
	points, err := t.client.DeviceStatus(ctx, t.deviceID)
	if err != nil {
		return 0, err
	}
	for _, p := range points {
		if p.Code != code {
			continue
		}
		v, ok := p.Value.(float64)
		if !ok {
			return 0, fmt.Errorf("unexpected %s value %v", code, p.Value)
		}
		return v, nil
	}
	return 0, &cloud.RequestError{Vendor: Vendor, Message: code + " not reported by device"}
}
