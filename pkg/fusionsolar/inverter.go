package fusionsolar

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/sunswitch/sunswitch/pkg/cloud"
	"github.com/sunswitch/sunswitch/pkg/log"
	"github.com/sunswitch/sunswitch/pkg/types"
)

// Inverter device types.
const (
	DeviceTypeStringInverter      = 1
	DeviceTypeResidentialInverter = 38
)

var deviceTypeNames = map[string]int{
	"string":      DeviceTypeStringInverter,
	"residential": DeviceTypeResidentialInverter,
}

// Real time indicators read from an inverter.
const (
	IndicatorActivePower   = "active_power"
	IndicatorReactivePower = "reactive_power"
	IndicatorTemperature   = "temperature"
	IndicatorPV1Voltage    = "pv1_u"
	IndicatorPV1Current    = "pv1_i"
)

// ParseDeviceType maps "string" or "residential" to its device type id.
func ParseDeviceType(name string) (int, error) {
	if t, ok := deviceTypeNames[strings.ToLower(name)]; ok {
		return t, nil
	}
	names := make([]string, 0, len(deviceTypeNames))
	for n := range deviceTypeNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return 0, cloud.Invalid("device type", fmt.Sprintf("unknown inverter type %q (expected one of %s)", name, strings.Join(names, ", ")))
}

// Device identifies one inverter. Either ID or SN must be set.
type Device struct {
	Type int
	ID   string
	SN   string
}

// Inverter reads one inverter through a client.
type Inverter struct {
	client *Client
	device Device
	now    func() time.Time
}

var _ cloud.PowerSource = (*Inverter)(nil)

// NewInverter binds a device to a client.
func NewInverter(client *Client, device Device) *Inverter {
	return &Inverter{client: client, device: device, now: time.Now}
}

// Device returns the inverter's descriptor.
func (i *Inverter) Device() Device {
	return i.device
}

func (i *Inverter) query() DeviceQuery {
	q := DeviceQuery{Type: i.device.Type}
	if i.device.ID != "" {
		q.IDs = []string{i.device.ID}
	}
	if i.device.SN != "" {
		q.SNs = []string{i.device.SN}
	}
	return q
}

// RealTimeData returns the inverter's real time KPI entry.
func (i *Inverter) RealTimeData(ctx context.Context) (KPI, error) {
	res, err := i.client.DeviceRealKPI(ctx, i.query())
	if err != nil {
		return KPI{}, err
	}
	if len(res) == 0 {
		return KPI{}, &cloud.RequestError{Vendor: Vendor, Message: "no real time data for device"}
	}
	return res[0], nil
}

// ActivePower implements cloud.PowerSource. It returns the inverter's active
// power output in kW.
func (i *Inverter) ActivePower(ctx context.Context) (float64, error) {
	kpi, err := i.RealTimeData(ctx)
	if err != nil {
		return 0, err
	}
	kw, ok := kpi.Float(IndicatorActivePower)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "inverter did not report active power", slog.Any("dataItemMap", kpi.DataItemMap))
		return 0, &cloud.RequestError{Vendor: Vendor, Message: IndicatorActivePower + " not reported by device"}
	}
	return kw, nil
}

// Reading returns the inverter's real time data as a reading. Only active
// power is required; other indicators the device leaves out read as zero.
func (i *Inverter) Reading(ctx context.Context) (types.Reading, error) {
	kpi, err := i.RealTimeData(ctx)
	if err != nil {
		return types.Reading{}, err
	}
	kw, ok := kpi.Float(IndicatorActivePower)
	if !ok {
		return types.Reading{}, &cloud.RequestError{Vendor: Vendor, Message: IndicatorActivePower + " not reported by device"}
	}

	r := types.Reading{
		Timestamp:     i.now(),
		DeviceID:      i.device.ID,
		ActivePowerKW: kw,
	}
	if r.DeviceID == "" {
		r.DeviceID = i.device.SN
	}
	r.ReactivePowerKVar, _ = kpi.Float(IndicatorReactivePower)
	r.TemperatureC, _ = kpi.Float(IndicatorTemperature)
	r.InputVoltage, _ = kpi.Float(IndicatorPV1Voltage)
	r.InputCurrent, _ = kpi.Float(IndicatorPV1Current)
	return r, nil
}

// DailyData returns the inverter's KPIs for the day containing collectTime.
func (i *Inverter) DailyData(ctx context.Context, collectTime time.Time) ([]KPI, error) {
	return i.client.DeviceKPI(ctx, i.query(), PeriodDay, collectTime)
}

// MonthlyData returns the inverter's KPIs for the month containing collectTime.
func (i *Inverter) MonthlyData(ctx context.Context, collectTime time.Time) ([]KPI, error) {
	return i.client.DeviceKPI(ctx, i.query(), PeriodMonth, collectTime)
}

// YearlyData returns the inverter's KPIs for the year containing collectTime.
func (i *Inverter) YearlyData(ctx context.Context, collectTime time.Time) ([]KPI, error) {
	return i.client.DeviceKPI(ctx, i.query(), PeriodYear, collectTime)
}
