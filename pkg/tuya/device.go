package tuya

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/sunswitch/sunswitch/pkg/cloud"
	"github.com/sunswitch/sunswitch/pkg/log"
)

// DataPoint is one device function code and its value, used both for status
// reports and for commands.
type DataPoint struct {
	Code  string `json:"code"`
	Value any    `json:"value"`
}

// DeviceInfo is a device as listed for the project's associated users.
type DeviceInfo struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	UID         string      `json:"uid"`
	LocalKey    string      `json:"local_key"`
	Category    string      `json:"category"`
	ProductID   string      `json:"product_id"`
	ProductName string      `json:"product_name"`
	Sub         bool        `json:"sub"`
	UUID        string      `json:"uuid"`
	Online      bool        `json:"online"`
	ActiveTime  int64       `json:"active_time"`
	UpdateTime  int64       `json:"update_time"`
	TimeZone    string      `json:"time_zone"`
	IP          string      `json:"ip"`
	Status      []DataPoint `json:"status"`
}

type devicesResult struct {
	Devices    []DeviceInfo `json:"devices"`
	HasMore    bool         `json:"has_more"`
	LastRowKey string       `json:"last_row_key"`
	Total      int          `json:"total"`
}

type commandRequest struct {
	Commands []DataPoint `json:"commands"`
}

// Devices lists every device associated with the project's linked users.
func (c *Client) Devices(ctx context.Context) ([]DeviceInfo, error) {
	var res devicesResult
	if err := c.Execute(ctx, http.MethodGet, "/v1.0/iot-01/associated-users/devices", nil, &res); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return res.Devices, nil
}

// DeviceStatus returns the latest reported data points of a device.
func (c *Client) DeviceStatus(ctx context.Context, deviceID string) ([]DataPoint, error) {
	if deviceID == "" {
		return nil, cloud.Invalid("device id", "missing")
	}

	var res []DataPoint
	if err := c.Execute(ctx, http.MethodGet, devicePath(deviceID, "status"), nil, &res); err != nil {
		return nil, fmt.Errorf("failed to get device status: %w", err)
	}
	return res, nil
}

// Command sends one or more function commands to a device.
func (c *Client) Command(ctx context.Context, deviceID string, commands ...DataPoint) error {
	if deviceID == "" {
		return cloud.Invalid("device id", "missing")
	}
	if len(commands) == 0 {
		return cloud.Invalid("commands", "at least one command is required")
	}
	for _, cmd := range commands {
		if cmd.Code == "" {
			return cloud.Invalid("commands", "command code is empty")
		}
	}

	var ok bool
	if err := c.Execute(ctx, http.MethodPost, devicePath(deviceID, "commands"), commandRequest{Commands: commands}, &ok); err != nil {
		return fmt.Errorf("failed to send command: %w", err)
	}
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "tuya command returned false result", slog.String("deviceID", deviceID))
	}
	return nil
}

func devicePath(deviceID, action string) string {
	return "/v1.0/iot-03/devices/" + url.PathEscape(deviceID) + "/" + action
}
