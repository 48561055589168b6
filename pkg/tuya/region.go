package tuya

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sunswitch/sunswitch/pkg/cloud"
)

// regionEndpoints maps the data center selector to the OpenAPI base URL.
var regionEndpoints = map[string]string{
	"cn":   "https://openapi.tuyacn.com",
	"w-us": "https://openapi.tuyaus.com",
	"e-us": "https://openapi-ueaz.tuyaus.com",
	"eu":   "https://openapi.tuyaeu.com",
	"w-eu": "https://openapi-weaz.tuyaeu.com",
	"in":   "https://openapi.tuyain.com",
}

// Regions returns the supported region selectors, sorted.
func Regions() []string {
	regions := make([]string, 0, len(regionEndpoints))
	for r := range regionEndpoints {
		regions = append(regions, r)
	}
	sort.Strings(regions)
	return regions
}

// BaseURL returns the OpenAPI base URL for region.
func BaseURL(region string) (string, error) {
	u, ok := regionEndpoints[region]
	if !ok {
		return "", cloud.Invalid("region", fmt.Sprintf("unknown region %q (expected one of %s)", region, strings.Join(Regions(), ", ")))
	}
	return u, nil
}
