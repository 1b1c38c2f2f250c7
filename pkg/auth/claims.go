package auth

import (
	"fmt"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/enums"
)

// AccessTokenClaims is the JWT issued to collector and admin apps. Subject
// carries the numeric collector or admin id.
type AccessTokenClaims struct {
	Role enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}

// ActorID parses the numeric subject.
func (c *AccessTokenClaims) ActorID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid subject %q", c.Subject)
	}
	return uint(id), nil
}
