package tuya

import (
	"fmt"
	"os"

	"github.com/levenlabs/go-lflag"

	"github.com/sunswitch/sunswitch/pkg/metrics"
)

// Configured sets up flags for the Tuya switch and returns it. The switch is
// usable once lflag.Configure has run. Defaults come from the TUYA_*
// environment variables so credentials can live in a .env file.
func Configured(reg *metrics.Registry) *Switch {
	region := lflag.String("tuya-region", envOr("TUYA_REGION", "eu"), "Tuya data center region (cn, w-us, e-us, eu, w-eu, in)")
	clientID := lflag.String("tuya-client-id", os.Getenv("TUYA_CLIENT_ID"), "Tuya cloud project client id")
	clientSecret := lflag.String("tuya-client-secret", os.Getenv("TUYA_CLIENT_SECRET"), "Tuya cloud project client secret")
	deviceID := lflag.String("tuya-device-id", os.Getenv("TUYA_DEVICE_ID"), "Tuya id of the switch to control")

	s := &Switch{}
	lflag.Do(func() {
		if *deviceID == "" {
			panic("tuya-device-id is required")
		}
		c, err := NewClient(Credentials{
			Region:       *region,
			ClientID:     *clientID,
			ClientSecret: *clientSecret,
		}, WithMetrics(reg))
		if err != nil {
			panic(fmt.Sprintf("tuya client: %v", err))
		}
		s.client = c
		s.deviceID = *deviceID
	})
	return s
}

// Client returns the client the switch sends commands through.
func (s *Switch) Client() *Client {
	return s.client
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
