package credentials

import (
	"fmt"
	"strconv"
	"strings"
)

const servicePrincipalKey = "service"

// Principal identifies whose upstream credential is requested: either one
// collector or the service account used for the shared feed.
type Principal struct {
	collectorID uint
	service     bool
}

// ServicePrincipal is the account configured by the upstream service
// credentials.
func ServicePrincipal() Principal {
	return Principal{service: true}
}

// CollectorPrincipal addresses the credential stored on a collector row.
func CollectorPrincipal(id uint) Principal {
	return Principal{collectorID: id}
}

func (p Principal) IsService() bool {
	return p.service
}

func (p Principal) CollectorID() uint {
	return p.collectorID
}

func (p Principal) String() string {
	if p.service {
		return servicePrincipalKey
	}
	return "collector:" + strconv.FormatUint(uint64(p.collectorID), 10)
}

// ParsePrincipal is the inverse of String.
func ParsePrincipal(value string) (Principal, error) {
	value = strings.TrimSpace(value)
	if value == servicePrincipalKey {
		return ServicePrincipal(), nil
	}
	raw, ok := strings.CutPrefix(value, "collector:")
	if !ok {
		return Principal{}, fmt.Errorf("unknown principal %q", value)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return Principal{}, fmt.Errorf("invalid collector principal %q", value)
	}
	return CollectorPrincipal(uint(id)), nil
}
