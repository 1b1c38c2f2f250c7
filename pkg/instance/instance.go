package instance

import (
	"os"
	"strings"
)

const envInstanceID = "RAMASSAGE_INSTANCE_ID"

// ID identifies this process in logs and metrics. It prefers the explicit
// env var, then the platform dyno name, then the hostname.
func ID(service string) string {
	for _, key := range []string{envInstanceID, "DYNO"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return service + "@" + host
	}
	return service + "-0"
}
