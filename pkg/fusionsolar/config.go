package fusionsolar

import (
	"fmt"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"golang.org/x/time/rate"

	"github.com/sunswitch/sunswitch/pkg/metrics"
)

// Configured sets up flags for the FusionSolar inverter and returns it. The
// inverter is usable once lflag.Configure has run. Defaults come from the
// FUSIONSOLAR_* environment variables so credentials can live in a .env file.
func Configured(reg *metrics.Registry) *Inverter {
	domain := lflag.String("fusionsolar-domain", envOr("FUSIONSOLAR_DOMAIN", "eu5.fusionsolar.huawei.com"), "FusionSolar management system host")
	userName := lflag.String("fusionsolar-user", os.Getenv("FUSIONSOLAR_USER"), "FusionSolar northbound API user name")
	systemCode := lflag.String("fusionsolar-system-code", os.Getenv("FUSIONSOLAR_SYSTEM_CODE"), "FusionSolar northbound API system code (password)")
	deviceType := lflag.String("fusionsolar-device-type", envOr("FUSIONSOLAR_DEVICE_TYPE", "residential"), "Inverter type (string or residential)")
	deviceID := lflag.String("fusionsolar-device-id", os.Getenv("FUSIONSOLAR_DEVICE_ID"), "FusionSolar id of the inverter")
	deviceSN := lflag.String("fusionsolar-device-sn", os.Getenv("FUSIONSOLAR_DEVICE_SN"), "Serial number of the inverter, used when no id is given")
	interval := lflag.Duration("fusionsolar-request-interval", time.Second, "Minimum spacing between FusionSolar requests")

	inv := &Inverter{now: time.Now}
	lflag.Do(func() {
		t, err := ParseDeviceType(*deviceType)
		if err != nil {
			panic(fmt.Sprintf("fusionsolar: %v", err))
		}
		if *deviceID == "" && *deviceSN == "" {
			panic("fusionsolar-device-id or fusionsolar-device-sn is required")
		}
		limit := rate.Inf
		if *interval > 0 {
			limit = rate.Every(*interval)
		}
		c, err := NewClient(Credentials{
			Domain:     *domain,
			UserName:   *userName,
			SystemCode: *systemCode,
		}, WithMetrics(reg), WithRateLimit(limit, 1))
		if err != nil {
			panic(fmt.Sprintf("fusionsolar client: %v", err))
		}
		inv.client = c
		inv.device = Device{Type: t, ID: *deviceID, SN: *deviceSN}
	})
	return inv
}

// Client returns the client the inverter reads through.
func (i *Inverter) Client() *Client {
	return i.client
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
