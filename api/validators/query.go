package validators

import (
	"net/http"
	"strings"
	"time"

	"github.com/medjbersoundous/backend-ramassage-packers/pkg/enums"
	pkgerrors "github.com/medjbersoundous/backend-ramassage-packers/pkg/errors"
)

// ParseQueryDate reads a YYYY-MM-DD parameter as midnight in loc.
func ParseQueryDate(r *http.Request, key string, loc *time.Location) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	day, err := time.ParseInLocation(time.DateOnly, raw, loc)
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "query parameter must be a date (YYYY-MM-DD)").
			WithDetails(map[string]any{"field": key})
	}
	return &day, nil
}

func ParseQueryStatus(r *http.Request, key string) (*enums.PickupStatus, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	status, err := enums.ParsePickupStatus(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter").
			WithDetails(map[string]any{"field": key})
	}
	return &status, nil
}
