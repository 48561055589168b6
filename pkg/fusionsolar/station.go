package fusionsolar

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sunswitch/sunswitch/pkg/cloud"
)

// Period is the aggregation window of a KPI query.
type Period string

const (
	PeriodHour  Period = "hour"
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

var stationKPIPaths = map[Period]string{
	PeriodHour:  "/thirdData/getKpiStationHour",
	PeriodDay:   "/thirdData/getKpiStationDay",
	PeriodMonth: "/thirdData/getKpiStationMonth",
	PeriodYear:  "/thirdData/getKpiStationYear",
}

// Station is a plant as returned by the plant list.
type Station struct {
	Code               string  `json:"plantCode"`
	Name               string  `json:"plantName"`
	Address            string  `json:"plantAddress"`
	Longitude          float64 `json:"longitude"`
	Latitude           float64 `json:"latitude"`
	Capacity           float64 `json:"capacity"`
	ContactPerson      string  `json:"contactPerson"`
	ContactMethod      string  `json:"contactMethod"`
	GridConnectionDate string  `json:"gridConnectionDate"`
}

// StationPage is one page of the plant list.
type StationPage struct {
	List      []Station `json:"list"`
	PageCount int       `json:"pageCount"`
	PageNo    int       `json:"pageNo"`
	PageSize  int       `json:"pageSize"`
	Total     int       `json:"total"`
}

// KPI is one entry of a station or device KPI response. DataItemMap holds the
// raw values keyed by the vendor's indicator names.
type KPI struct {
	StationCode string         `json:"stationCode,omitempty"`
	DevID       int64          `json:"devId,omitempty"`
	SN          string         `json:"sn,omitempty"`
	CollectTime int64          `json:"collectTime,omitempty"`
	DataItemMap map[string]any `json:"dataItemMap"`
}

// Float returns the indicator as a number. Missing, null and non numeric
// values report false.
func (k KPI) Float(key string) (float64, bool) {
	switch v := k.DataItemMap[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Collected returns CollectTime as a time.
func (k KPI) Collected() time.Time {
	if k.CollectTime == 0 {
		return time.Time{}
	}
	return time.UnixMilli(k.CollectTime)
}

type stationsRequest struct {
	PageNo    int    `json:"pageNo"`
	StartTime *int64 `json:"gridConnectedStartTime,omitempty"`
	EndTime   *int64 `json:"gridConnectedEndTime,omitempty"`
}

type stationCodesRequest struct {
	StationCodes string `json:"stationCodes"`
	CollectTime  int64  `json:"collectTime,omitempty"`
}

// Stations returns a page of the plant list. pageNo starts at 1. The
// optional bounds filter on grid connection time.
func (c *Client) Stations(ctx context.Context, pageNo int, gridConnectedStart, gridConnectedEnd *time.Time) (StationPage, error) {
	if pageNo < 1 {
		return StationPage{}, cloud.Invalid("page number", "must be at least 1")
	}
	req := stationsRequest{PageNo: pageNo}
	if gridConnectedStart != nil {
		ms := gridConnectedStart.UnixMilli()
		req.StartTime = &ms
	}
	if gridConnectedEnd != nil {
		ms := gridConnectedEnd.UnixMilli()
		req.EndTime = &ms
	}

	var page StationPage
	if err := c.Execute(ctx, "/thirdData/stations", req, &page); err != nil {
		return StationPage{}, fmt.Errorf("failed to list stations: %w", err)
	}
	return page, nil
}

// StationRealKPI returns the real time KPIs of the given stations.
func (c *Client) StationRealKPI(ctx context.Context, codes ...string) ([]KPI, error) {
	joined, err := joinCodes(codes)
	if err != nil {
		return nil, err
	}
	var res []KPI
	if err := c.Execute(ctx, "/thirdData/getStationRealKpi", stationCodesRequest{StationCodes: joined}, &res); err != nil {
		return nil, fmt.Errorf("failed to get station real kpi: %w", err)
	}
	return res, nil
}

// StationKPI returns the hourly, daily, monthly or yearly KPIs of the given
// stations for the window containing collectTime.
func (c *Client) StationKPI(ctx context.Context, period Period, collectTime time.Time, codes ...string) ([]KPI, error) {
	path, ok := stationKPIPaths[period]
	if !ok {
		return nil, cloud.Invalid("period", fmt.Sprintf("unknown period %q", period))
	}
	joined, err := joinCodes(codes)
	if err != nil {
		return nil, err
	}
	var res []KPI
	if err := c.Execute(ctx, path, stationCodesRequest{StationCodes: joined, CollectTime: collectTime.UnixMilli()}, &res); err != nil {
		return nil, fmt.Errorf("failed to get station %s kpi: %w", period, err)
	}
	return res, nil
}

// DeviceInfo is a device attached to a station.
type DeviceInfo struct {
	ID              int64   `json:"id"`
	Name            string  `json:"devName"`
	StationCode     string  `json:"stationCode"`
	SN              string  `json:"esnCode"`
	TypeID          int     `json:"devTypeId"`
	SoftwareVersion string  `json:"softwareVersion"`
	InverterType    string  `json:"invType"`
	Longitude       float64 `json:"longitude"`
	Latitude        float64 `json:"latitude"`
}

// DeviceList returns the devices of the given stations.
func (c *Client) DeviceList(ctx context.Context, codes ...string) ([]DeviceInfo, error) {
	joined, err := joinCodes(codes)
	if err != nil {
		return nil, err
	}
	var res []DeviceInfo
	if err := c.Execute(ctx, "/thirdData/getDevList", stationCodesRequest{StationCodes: joined}, &res); err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return res, nil
}

func joinCodes(codes []string) (string, error) {
	if len(codes) == 0 {
		return "", cloud.Invalid("station codes", "at least one station code is required")
	}
	for _, code := range codes {
		if code == "" {
			return "", cloud.Invalid("station codes", "station code is empty")
		}
	}
	return strings.Join(codes, ","), nil
}
