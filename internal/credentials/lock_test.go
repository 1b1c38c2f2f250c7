package credentials

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/medjbersoundous/backend-ramassage-packers/pkg/logger"
	pkgredis "github.com/medjbersoundous/backend-ramassage-packers/pkg/redis"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/upstream"
)

// memoryLeaseStore behaves like the Redis client for SETNX leases. TTLs are
// ignored; tests release explicitly.
type memoryLeaseStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemoryLeaseStore() *memoryLeaseStore {
	return &memoryLeaseStore{data: map[string]string{}}
}

func (m *memoryLeaseStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryLeaseStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", pkgredis.ErrNil
	}
	return v, nil
}

func (m *memoryLeaseStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryLeaseStore) LockKey(name, env string) string {
	return "ramassage:lock:" + name + ":" + env
}

func (m *memoryLeaseStore) held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok
}

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	store := newMemoryLeaseStore()
	locker := NewRedisLocker(store, 200*time.Millisecond)
	p := CollectorPrincipal(7)

	unlock, err := locker.Lock(context.Background(), p)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if !store.held("ramassage:lock:credential:collector:7") {
		t.Fatalf("expected lease key to be set")
	}

	if _, err := locker.Lock(context.Background(), p); err == nil {
		t.Fatalf("second lock must give up while the lease is held")
	}

	unlock()
	unlock2, err := locker.Lock(context.Background(), p)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	unlock2()
}

func TestRedisLockerUnlockKeepsForeignLease(t *testing.T) {
	store := newMemoryLeaseStore()
	locker := NewRedisLocker(store, time.Second)
	p := CollectorPrincipal(3)

	unlock, err := locker.Lock(context.Background(), p)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	// Lease expired and was taken by another process.
	store.data["ramassage:lock:credential:collector:3"] = "someone-else"
	unlock()
	if !store.held("ramassage:lock:credential:collector:3") {
		t.Fatalf("unlock must not delete a lease it no longer owns")
	}
}

// Two brokers model the API and the sync worker sharing the collector row.
func TestBrokersInSeparateProcessesExchangeOnce(t *testing.T) {
	store := newFakeStore()
	leases := newMemoryLeaseStore()
	ex := &fakeExchanger{
		passwordGrant: upstream.TokenGrant{AccessToken: "shared", RefreshToken: "r", ExpiresIn: time.Hour},
		block:         make(chan struct{}),
	}

	newProcessBroker := func() *Broker {
		b, err := NewBroker(BrokerParams{
			Store:     store,
			Exchanger: ex,
			Email:     "svc@example.com",
			Password:  "pw",
			Logger:    logger.New(logger.Options{ServiceName: "test", Output: &bytes.Buffer{}}),
			Locker:    NewRedisLocker(leases, 5*time.Second),
		})
		if err != nil {
			t.Fatalf("new broker: %v", err)
		}
		b.now = func() time.Time { return fixedNow }
		return b
	}
	api, worker := newProcessBroker(), newProcessBroker()
	p := CollectorPrincipal(7)

	var wg sync.WaitGroup
	results := make([]string, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		tok, err := api.GetValidToken(context.Background(), p)
		if err != nil {
			t.Errorf("api broker: %v", err)
		}
		results[0] = tok
	}()

	deadline := time.After(2 * time.Second)
	for ex.passwordCalls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("first exchange never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		tok, err := worker.GetValidToken(context.Background(), p)
		if err != nil {
			t.Errorf("worker broker: %v", err)
		}
		results[1] = tok
	}()

	time.Sleep(100 * time.Millisecond)
	close(ex.block)
	wg.Wait()

	if results[0] != "shared" || results[1] != "shared" {
		t.Fatalf("unexpected tokens %v", results)
	}
	if got := ex.passwordCalls.Load(); got != 1 {
		t.Fatalf("expected one exchange across both brokers, got %d", got)
	}
	if store.saves != 1 {
		t.Fatalf("expected one save, got %d", store.saves)
	}
	if leases.held("ramassage:lock:credential:collector:7") {
		t.Fatalf("lease must be released")
	}
}
