package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	pkgerrors "github.com/medjbersoundous/backend-ramassage-packers/pkg/errors"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/logger"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/metrics"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func newTestClient(t *testing.T, rt roundTripFunc) *Client {
	t.Helper()
	client, err := NewClient("https://feed.test/", "anon-key", WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestFetchAllDecodesItems(t *testing.T) {
	body := `[
		{"id": 101, "partner_id": 7, "wilaya_id": "16", "date": "2025-03-10T08:30:00+01:00",
		 "address": "Cité 200 logements", "phone": "0550000000", "secondary_phone": null,
		 "province": "Kouba", "note": "fragile", "partners": {"name": "Yalidine"}, "extra": {"k": 1}},
		{"id": "abc-2", "partner_id": "9", "wilaya_id": 16, "date": "2025-03-10 09:00:00",
		 "address": "Rue 1", "phone": 213550000001, "province": "Hydra", "partners": [{"name": "Zr Express"}]}
	]`

	var captured *http.Request
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		captured = req
		return jsonResponse(http.StatusOK, body), nil
	})

	items, err := client.FetchAll(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if captured.Method != http.MethodGet {
		t.Fatalf("unexpected method %s", captured.Method)
	}
	if got := captured.URL.String(); got != "https://feed.test/rest/v1/pickups?select=*,partners(name)" {
		t.Fatalf("unexpected url %s", got)
	}
	if captured.Header.Get("apikey") != "anon-key" {
		t.Fatalf("apikey header missing")
	}
	if captured.Header.Get("Authorization") != "Bearer tok-1" {
		t.Fatalf("bearer header missing: %q", captured.Header.Get("Authorization"))
	}

	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	first := items[0]
	if first.ID != "101" || first.PartnerID != "7" || first.WilayaID != "16" {
		t.Fatalf("numeric ids not normalized: %+v", first)
	}
	if !first.Date.Equal(time.Date(2025, 3, 10, 7, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v", first.Date)
	}
	if first.PartnerName == nil || *first.PartnerName != "Yalidine" {
		t.Fatalf("partner name not extracted from object: %v", first.PartnerName)
	}
	if first.Note == nil || *first.Note != "fragile" {
		t.Fatalf("note not decoded")
	}
	var raw map[string]any
	if err := json.Unmarshal(first.Raw, &raw); err != nil {
		t.Fatalf("raw copy invalid: %v", err)
	}
	if _, ok := raw["extra"]; !ok {
		t.Fatalf("unknown fields must be preserved in raw")
	}

	second := items[1]
	if second.ID != "abc-2" || second.Phone != "213550000001" {
		t.Fatalf("unexpected second item %+v", second)
	}
	if !second.Date.Equal(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("zoneless date should be read as UTC, got %v", second.Date)
	}
	if second.PartnerName == nil || *second.PartnerName != "Zr Express" {
		t.Fatalf("partner name not extracted from array: %v", second.PartnerName)
	}
}

func TestFetchAllNon2xxReturnsStatusError(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusBadGateway, `{"message":"upstream down"}`), nil
	})

	_, err := client.FetchAll(context.Background(), "tok")
	if err == nil {
		t.Fatal("expected error")
	}
	if StatusCode(err) != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d (%v)", StatusCode(err), err)
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency code, got %v", err)
	}
}

func TestFetchAllUnauthorizedCarriesCode(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnauthorized, `{"message":"JWT expired"}`), nil
	})

	_, err := client.FetchAll(context.Background(), "tok")
	if !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) || StatusCode(err) != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized status error, got %v", err)
	}
}

func TestFetchAllDoesNotRetry(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("connection reset")
	})

	if _, err := client.FetchAll(context.Background(), "tok"); err == nil {
		t.Fatal("expected transport error")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestFetchAllRequiresToken(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request expected")
		return nil, nil
	})
	if _, err := client.FetchAll(context.Background(), " "); err == nil {
		t.Fatal("expected missing token error")
	}
}

func TestPushStatusSendsPatch(t *testing.T) {
	var captured *http.Request
	var payload map[string]int
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		captured = req
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		return jsonResponse(http.StatusNoContent, ""), nil
	})

	if err := client.PushStatus(context.Background(), "tok", "101", 1); err != nil {
		t.Fatalf("push: %v", err)
	}
	if captured.Method != http.MethodPatch {
		t.Fatalf("unexpected method %s", captured.Method)
	}
	if got := captured.URL.String(); got != "https://feed.test/rest/v1/pickups?id=eq.101" {
		t.Fatalf("unexpected url %s", got)
	}
	if payload["status"] != 1 {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestPushStatusFailure(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusInternalServerError, "boom"), nil
	})
	err := client.PushStatus(context.Background(), "tok", "101", 2)
	if StatusCode(err) != http.StatusInternalServerError {
		t.Fatalf("expected 500 status error, got %v", err)
	}
}

func TestPasswordGrantFallsBackToTokenField(t *testing.T) {
	var captured *http.Request
	var body map[string]string
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		captured = req
		_ = json.NewDecoder(req.Body).Decode(&body)
		return jsonResponse(http.StatusOK, `{"token":"legacy-access","refresh_token":"r1","expires_in":3600}`), nil
	})

	grant, err := client.PasswordGrant(context.Background(), "sync@example.com", "pw")
	if err != nil {
		t.Fatalf("password grant: %v", err)
	}
	if got := captured.URL.String(); got != "https://feed.test/auth/v1/token?grant_type=password" {
		t.Fatalf("unexpected url %s", got)
	}
	if captured.Header.Get("Authorization") != "" {
		t.Fatalf("token exchange must not send a bearer")
	}
	if body["email"] != "sync@example.com" || body["password"] != "pw" {
		t.Fatalf("unexpected body %v", body)
	}
	if grant.AccessToken != "legacy-access" || grant.RefreshToken != "r1" || grant.ExpiresIn != time.Hour {
		t.Fatalf("unexpected grant %+v", grant)
	}
}

func TestRefreshGrantWithoutExpiry(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		if req.URL.Query().Get("grant_type") != "refresh_token" {
			t.Fatalf("unexpected grant type %s", req.URL.RawQuery)
		}
		return jsonResponse(http.StatusOK, `{"access_token":"a2"}`), nil
	})

	grant, err := client.RefreshGrant(context.Background(), "r1")
	if err != nil {
		t.Fatalf("refresh grant: %v", err)
	}
	if grant.AccessToken != "a2" || grant.RefreshToken != "" || grant.ExpiresIn != 0 {
		t.Fatalf("unexpected grant %+v", grant)
	}
}

func TestGrantWithoutAccessTokenFails(t *testing.T) {
	client := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"refresh_token":"r"}`), nil
	})
	if _, err := client.RefreshGrant(context.Background(), "r1"); !pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
		t.Fatalf("expected unauthorized error, got %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("", "k"); err == nil {
		t.Fatal("expected base url error")
	}
	if _, err := NewClient("https://x", " "); err == nil {
		t.Fatal("expected api key error")
	}
	if _, err := NewClient("https://x", "k", WithIPFamily("ipx")); err == nil {
		t.Fatal("expected ip family error")
	}
	client, err := NewClient("https://x", "k", WithIPFamily("IPv4"), WithTimeout(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.httpClient.Timeout != time.Second {
		t.Fatalf("timeout not applied: %v", client.httpClient.Timeout)
	}
}

func TestParseDate(t *testing.T) {
	cases := map[string]time.Time{
		"2025-03-10T23:30:00Z":          time.Date(2025, 3, 10, 23, 30, 0, 0, time.UTC),
		"2025-03-10T23:30:00.123+00:00": time.Date(2025, 3, 10, 23, 30, 0, 123000000, time.UTC),
		"2025-03-10 23:30:00+01":        time.Date(2025, 3, 10, 22, 30, 0, 0, time.UTC),
		"2025-03-10":                    time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, err := ParseDate(in)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if !got.Equal(want) {
			t.Fatalf("%s: expected %v got %v", in, want, got)
		}
	}
	if _, err := ParseDate("tomorrow"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPartnerNameMissing(t *testing.T) {
	if PartnerName([]byte(`{"id":1}`)) != nil {
		t.Fatal("expected nil partner name")
	}
	if PartnerName([]byte(`{"partners":[]}`)) != nil {
		t.Fatal("expected nil partner name for empty join")
	}
	if PartnerName([]byte(`{"partners":{"name":"  "}}`)) != nil {
		t.Fatal("expected nil partner name for blank value")
	}
}

func TestFetchAllSkipsMalformedRecords(t *testing.T) {
	body := `[
		{"id": 1, "partner_id": 7, "wilaya_id": 16, "date": "2025-03-10T08:30:00Z",
		 "address": "Rue Larbi Ben M'hidi", "phone": "0550000000", "province": "Kouba"},
		{"id": 2, "partner_id": 7, "wilaya_id": 16, "date": null,
		 "address": "Rue 2", "phone": "0550000001", "province": "Kouba"},
		{"id": 3, "partner_id": 7, "wilaya_id": 16, "date": "2025-03-10T08:30:00Z",
		 "address": 12, "phone": "0550000002", "province": "Kouba"},
		{"partner_id": 7, "date": "2025-03-10T08:30:00Z", "address": "Rue 4", "province": "Kouba"}
	]`

	reg := prometheus.NewRegistry()
	var logs bytes.Buffer
	client, err := NewClient("https://feed.test", "anon-key",
		WithHTTPClient(&http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
			return jsonResponse(http.StatusOK, body), nil
		})}),
		WithLogger(logger.New(logger.Options{ServiceName: "upstream-test", Output: &logs})),
		WithMetrics(metrics.NewSyncMetrics(reg)),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	items, err := client.FetchAll(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("bad records must not fail the fetch: %v", err)
	}
	if len(items) != 1 || items[0].ID != "1" {
		t.Fatalf("expected only the valid record, got %+v", items)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var skipped float64
	for _, mf := range mfs {
		if mf.GetName() == "ramassage_sync_items_malformed_total" {
			skipped = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	if skipped != 3 {
		t.Fatalf("expected 3 skipped records, got %v", skipped)
	}
	if !strings.Contains(logs.String(), `"remote_id":"2"`) {
		t.Fatalf("expected skipped record to be logged, got %s", logs.String())
	}
}

func TestFetchAllEnvelopeFailureAborts(t *testing.T) {
	client := newTestClient(t, func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"message":"not a list"}`), nil
	})
	if _, err := client.FetchAll(context.Background(), "tok-1"); !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
}
