package fusionsolar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sunswitch/sunswitch/pkg/cloud"
)

var deviceKPIPaths = map[Period]string{
	PeriodDay:   "/thirdData/getDevKpiDay",
	PeriodMonth: "/thirdData/getDevKpiMonth",
	PeriodYear:  "/thirdData/getDevKpiYear",
}

// DeviceQuery selects devices of one type by id, by serial number, or both.
type DeviceQuery struct {
	Type int
	IDs  []string
	SNs  []string
}

type deviceRequest struct {
	DevTypeID   int    `json:"devTypeId"`
	DevIDs      string `json:"devIds,omitempty"`
	SNs         string `json:"sns,omitempty"`
	CollectTime int64  `json:"collectTime,omitempty"`
	StartTime   int64  `json:"startTime,omitempty"`
	EndTime     int64  `json:"endTime,omitempty"`
}

func (q DeviceQuery) request() (deviceRequest, error) {
	if q.Type <= 0 {
		return deviceRequest{}, cloud.Invalid("device type", fmt.Sprintf("%d is not a device type", q.Type))
	}
	ids := nonEmpty(q.IDs)
	sns := nonEmpty(q.SNs)
	if len(ids) == 0 && len(sns) == 0 {
		return deviceRequest{}, cloud.Invalid("device", "either device ids or serial numbers are required")
	}
	return deviceRequest{
		DevTypeID: q.Type,
		DevIDs:    strings.Join(ids, ","),
		SNs:       strings.Join(sns, ","),
	}, nil
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DeviceRealKPI returns the real time KPIs of the queried devices.
func (c *Client) DeviceRealKPI(ctx context.Context, q DeviceQuery) ([]KPI, error) {
	req, err := q.request()
	if err != nil {
		return nil, err
	}
	var res []KPI
	if err := c.Execute(ctx, "/thirdData/getDevRealKpi", req, &res); err != nil {
		return nil, fmt.Errorf("failed to get device real kpi: %w", err)
	}
	return res, nil
}

// DeviceHistoryKPI returns the five minute KPIs of the queried devices
// between start and end.
func (c *Client) DeviceHistoryKPI(ctx context.Context, q DeviceQuery, start, end time.Time) ([]KPI, error) {
	req, err := q.request()
	if err != nil {
		return nil, err
	}
	if start.IsZero() || end.IsZero() {
		return nil, cloud.Invalid("time range", "start and end are required")
	}
	if end.Before(start) {
		return nil, cloud.Invalid("time range", "end is before start")
	}
	req.StartTime = start.UnixMilli()
	req.EndTime = end.UnixMilli()

	var res []KPI
	if err := c.Execute(ctx, "/thirdData/getDevHistoryKpi", req, &res); err != nil {
		return nil, fmt.Errorf("failed to get device history kpi: %w", err)
	}
	return res, nil
}

// DeviceKPI returns the daily, monthly or yearly KPIs of the queried devices
// for the window containing collectTime.
func (c *Client) DeviceKPI(ctx context.Context, q DeviceQuery, period Period, collectTime time.Time) ([]KPI, error) {
	path, ok := deviceKPIPaths[period]
	if !ok {
		return nil, cloud.Invalid("period", fmt.Sprintf("unsupported device period %q", period))
	}
	req, err := q.request()
	if err != nil {
		return nil, err
	}
	req.CollectTime = collectTime.UnixMilli()

	var res []KPI
	if err := c.Execute(ctx, path, req, &res); err != nil {
		return nil, fmt.Errorf("failed to get device %s kpi: %w", period, err)
	}
	return res, nil
}
