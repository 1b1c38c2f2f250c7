package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/medjbersoundous/backend-ramassage-packers/pkg/db/models"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/redis"
)

// Store persists token triples per principal.
type Store interface {
	Load(ctx context.Context, principal Principal) (Record, error)
	Save(ctx context.Context, principal Principal, rec Record) error
}

type collectorRepository interface {
	FindByID(ctx context.Context, id uint) (*models.Collector, error)
	UpdateCredential(ctx context.Context, id uint, access, refresh *string, expiresAt *time.Time) error
}

// CollectorStore keeps collector credentials on the collector row.
type CollectorStore struct {
	repo collectorRepository
}

func NewCollectorStore(repo collectorRepository) *CollectorStore {
	return &CollectorStore{repo: repo}
}

func (s *CollectorStore) Load(ctx context.Context, principal Principal) (Record, error) {
	if principal.IsService() {
		return Record{}, fmt.Errorf("collector store cannot hold %s", principal)
	}
	collector, err := s.repo.FindByID(ctx, principal.CollectorID())
	if err != nil {
		return Record{}, err
	}
	rec := Record{ExpiresAt: collector.AccessTokenExpireAt}
	if collector.AccessToken != nil {
		rec.AccessToken = *collector.AccessToken
	}
	if collector.RefreshToken != nil {
		rec.RefreshToken = *collector.RefreshToken
	}
	return rec, nil
}

func (s *CollectorStore) Save(ctx context.Context, principal Principal, rec Record) error {
	if principal.IsService() {
		return fmt.Errorf("collector store cannot hold %s", principal)
	}
	return s.repo.UpdateCredential(ctx, principal.CollectorID(), optional(rec.AccessToken), optional(rec.RefreshToken), rec.ExpiresAt)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

type keyValue interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	CredentialKey(principal string) string
}

// RedisStore keeps credentials that have no database row, such as the
// service account, as JSON documents in Redis.
type RedisStore struct {
	kv keyValue
}

func NewRedisStore(kv keyValue) *RedisStore {
	return &RedisStore{kv: kv}
}

func (s *RedisStore) Load(ctx context.Context, principal Principal) (Record, error) {
	raw, err := s.kv.Get(ctx, s.kv.CredentialKey(principal.String()))
	if errors.Is(err, redis.ErrNil) {
		return Record{}, nil
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// A corrupt document is treated as absent so the next exchange overwrites it.
		return Record{}, nil
	}
	return rec, nil
}

func (s *RedisStore) Save(ctx context.Context, principal Principal, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.kv.CredentialKey(principal.String()), string(payload), 0)
}

// RoutingStore sends the service principal to one store and collectors to
// another.
type RoutingStore struct {
	Service    Store
	Collectors Store
}

func (s RoutingStore) pick(principal Principal) Store {
	if principal.IsService() {
		return s.Service
	}
	return s.Collectors
}

func (s RoutingStore) Load(ctx context.Context, principal Principal) (Record, error) {
	return s.pick(principal).Load(ctx, principal)
}

func (s RoutingStore) Save(ctx context.Context, principal Principal, rec Record) error {
	return s.pick(principal).Save(ctx, principal, rec)
}
