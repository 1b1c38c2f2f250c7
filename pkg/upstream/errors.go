package upstream

import (
	"errors"
	"fmt"
	"net/http"

	pkgerrors "github.com/medjbersoundous/backend-ramassage-packers/pkg/errors"
)

// StatusError reports a non-2xx answer from the order platform.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func newStatusError(op string, status int, body string) error {
	code := pkgerrors.CodeDependency
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		code = pkgerrors.CodeUnauthorized
	}
	return pkgerrors.Wrap(code, &StatusError{Op: op, StatusCode: status, Body: body}, op+" rejected")
}

// StatusCode extracts the upstream HTTP status from err, or 0 when err did not
// come from an upstream response.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
