package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"gorm.io/gorm"

	dbtypes "github.com/medjbersoundous/backend-ramassage-packers/pkg/db/types"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/enums"
)

type testPushTokenStore struct {
	collectorID uint
	added       []string
	removed     []string
	err         error
}

func (s *testPushTokenStore) AddPushTokens(_ context.Context, id uint, tokens []string) (dbtypes.StringList, error) {
	s.collectorID, s.added = id, tokens
	if s.err != nil {
		return nil, s.err
	}
	return dbtypes.StringList{"ExponentPushToken[old]"}.With(tokens), nil
}

func (s *testPushTokenStore) RemovePushTokens(_ context.Context, id uint, tokens []string) error {
	s.collectorID, s.removed = id, tokens
	return s.err
}

func TestRegisterPushTokens(t *testing.T) {
	store := &testPushTokenStore{}
	body := `{"tokens":[" ExponentPushToken[abc] "]}`
	req := withActor(httptest.NewRequest(http.MethodPut, "/api/v1/me/push-tokens", strings.NewReader(body)), 5, enums.ActorRoleCollector)
	resp := httptest.NewRecorder()
	RegisterPushTokens(store, testLogger()).ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	if store.collectorID != 5 || len(store.added) != 1 || store.added[0] != "ExponentPushToken[abc]" {
		t.Fatalf("unexpected store call id=%d tokens=%v", store.collectorID, store.added)
	}
	var env struct {
		Data pushTokensResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(env.Data.Tokens) != 2 {
		t.Fatalf("unexpected payload %v", env.Data.Tokens)
	}
}

func TestRegisterPushTokensValidation(t *testing.T) {
	cases := map[string]string{
		"empty list":    `{"tokens":[]}`,
		"missing field": `{}`,
		"not expo":      `{"tokens":["fcm:abc"]}`,
		"unknown field": `{"tokens":["ExpoPushToken[a]"],"platform":"ios"}`,
	}
	for name, body := range cases {
		store := &testPushTokenStore{}
		req := withActor(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body)), 5, enums.ActorRoleCollector)
		resp := httptest.NewRecorder()
		RegisterPushTokens(store, testLogger()).ServeHTTP(resp, req)
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400 got %d", name, resp.Code)
		}
		if store.added != nil {
			t.Fatalf("%s: store must not be reached", name)
		}
	}
}

func TestRegisterPushTokensUnknownCollector(t *testing.T) {
	store := &testPushTokenStore{err: gorm.ErrRecordNotFound}
	req := withActor(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"tokens":["ExpoPushToken[a]"]}`)), 9, enums.ActorRoleCollector)
	resp := httptest.NewRecorder()
	RegisterPushTokens(store, testLogger()).ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestUnregisterPushTokens(t *testing.T) {
	store := &testPushTokenStore{}
	req := withActor(httptest.NewRequest(http.MethodDelete, "/", strings.NewReader(`{"tokens":["ExponentPushToken[abc]"]}`)), 5, enums.ActorRoleCollector)
	resp := httptest.NewRecorder()
	UnregisterPushTokens(store, testLogger()).ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d: %s", resp.Code, resp.Body.String())
	}
	if store.collectorID != 5 || len(store.removed) != 1 {
		t.Fatalf("unexpected store call id=%d tokens=%v", store.collectorID, store.removed)
	}
}
