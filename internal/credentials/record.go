package credentials

import (
	"errors"
	"fmt"
	"time"
)

// Record is the stored token triple of one principal.
type Record struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// ValidAt reports whether the access token can be used at now without a
// network round trip. A missing expiry is never valid.
func (r Record) ValidAt(now time.Time) bool {
	return r.AccessToken != "" && r.ExpiresAt != nil && now.Before(*r.ExpiresAt)
}

// ErrAuth marks every failure to obtain a usable token.
var ErrAuth = errors.New("upstream authentication failed")

// AuthError is returned when neither refresh nor re-authentication produced
// a token for the principal.
type AuthError struct {
	Principal Principal
	Err       error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("obtain token for %s: %v", e.Principal, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func (e *AuthError) Is(target error) bool {
	return target == ErrAuth
}
