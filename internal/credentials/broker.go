package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/medjbersoundous/backend-ramassage-packers/pkg/logger"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/upstream"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"
)

// Exchanger performs the upstream token grants.
type Exchanger interface {
	PasswordGrant(ctx context.Context, email, password string) (upstream.TokenGrant, error)
	RefreshGrant(ctx context.Context, refreshToken string) (upstream.TokenGrant, error)
}

// BrokerParams wires the broker dependencies.
type BrokerParams struct {
	Store     Store
	Exchanger Exchanger
	Email     string
	Password  string
	Logger    *logger.Logger
	// Locker serializes exchanges with other processes sharing the store.
	// Nil limits serialization to this process.
	Locker Locker
}

// Broker hands out valid upstream access tokens per principal, refreshing or
// re-authenticating when the stored one is missing or expired.
type Broker struct {
	store     Store
	exchanger Exchanger
	email     string
	password  string
	logg      *logger.Logger
	locker    Locker
	flights   singleflight.Group
	now       func() time.Time
}

func NewBroker(params BrokerParams) (*Broker, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("credential store required")
	}
	if params.Exchanger == nil {
		return nil, fmt.Errorf("token exchanger required")
	}
	if params.Email == "" || params.Password == "" {
		return nil, fmt.Errorf("service credentials required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	locker := params.Locker
	if locker == nil {
		locker = localLocker{}
	}
	return &Broker{
		store:     params.Store,
		exchanger: params.Exchanger,
		email:     params.Email,
		password:  params.Password,
		logg:      params.Logger,
		locker:    locker,
		now:       time.Now,
	}, nil
}

// GetValidToken returns an access token for principal. Concurrent callers for
// the same principal share one load/exchange in-process, and the locker
// serializes exchanges across processes. Every failure is an *AuthError.
func (b *Broker) GetValidToken(ctx context.Context, principal Principal) (string, error) {
	v, err, _ := b.flights.Do(principal.String(), func() (any, error) {
		return b.obtain(ctx, principal)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (b *Broker) obtain(ctx context.Context, principal Principal) (string, error) {
	rec, err := b.store.Load(ctx, principal)
	if err != nil {
		return "", &AuthError{Principal: principal, Err: fmt.Errorf("load credential: %w", err)}
	}
	if rec.ValidAt(b.now()) {
		return rec.AccessToken, nil
	}

	unlock, err := b.locker.Lock(ctx, principal)
	if err != nil {
		return "", &AuthError{Principal: principal, Err: fmt.Errorf("credential lock: %w", err)}
	}
	defer unlock()

	// Another process may have exchanged while this one waited.
	rec, err = b.store.Load(ctx, principal)
	if err != nil {
		return "", &AuthError{Principal: principal, Err: fmt.Errorf("load credential: %w", err)}
	}
	if rec.ValidAt(b.now()) {
		return rec.AccessToken, nil
	}

	logCtx := b.logg.WithField(ctx, "principal", principal.String())

	var refreshErr error
	if rec.RefreshToken != "" {
		grant, err := b.exchanger.RefreshGrant(ctx, rec.RefreshToken)
		if err == nil {
			return b.persist(logCtx, principal, rec, grant), nil
		}
		refreshErr = fmt.Errorf("refresh: %w", err)
		b.logg.Warn(b.logg.WithField(logCtx, "error", err.Error()), "token refresh failed, re-authenticating")
	}

	grant, err := b.exchanger.PasswordGrant(ctx, b.email, b.password)
	if err != nil {
		return "", &AuthError{Principal: principal, Err: multierr.Append(refreshErr, fmt.Errorf("password: %w", err))}
	}
	return b.persist(logCtx, principal, rec, grant), nil
}

// persist stores the new triple and returns the access token. Store failures
// are logged and the token is still returned.
func (b *Broker) persist(ctx context.Context, principal Principal, prev Record, grant upstream.TokenGrant) string {
	next := Record{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
	}
	if next.RefreshToken == "" {
		next.RefreshToken = prev.RefreshToken
	}
	if grant.ExpiresIn > 0 {
		exp := b.now().Add(grant.ExpiresIn).UTC()
		next.ExpiresAt = &exp
	}

	if err := b.store.Save(ctx, principal, next); err != nil {
		b.logg.Error(ctx, "failed to persist upstream credential", err)
	}
	return next.AccessToken
}
