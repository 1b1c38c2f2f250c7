package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	pkgerrors "github.com/medjbersoundous/backend-ramassage-packers/pkg/errors"
)

const feedPath = "rest/v1/pickups?select=*,partners(name)"

// RemoteItem is one order from the feed. Raw keeps the full record,
// including fields the service does not read.
type RemoteItem struct {
	ID             string
	PartnerID      string
	WilayaID       string
	Date           time.Time
	Address        string
	Phone          string
	SecondaryPhone *string
	Province       string
	Note           *string
	PartnerName    *string
	Raw            json.RawMessage
}

type remoteItemWire struct {
	ID             flexString `json:"id"`
	PartnerID      flexString `json:"partner_id"`
	WilayaID       flexString `json:"wilaya_id"`
	Date           string     `json:"date"`
	Address        string     `json:"address"`
	Phone          flexString `json:"phone"`
	SecondaryPhone *string    `json:"secondary_phone"`
	Province       string     `json:"province"`
	Note           *string    `json:"note"`
}

// FetchAll returns every pickup the token may read. A record that cannot be
// decoded is logged and skipped; only transport and envelope failures abort.
func (c *Client) FetchAll(ctx context.Context, token string) ([]RemoteItem, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "upstream client not configured")
	}
	if strings.TrimSpace(token) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "feed token is required")
	}

	req, err := c.newRequest(ctx, http.MethodGet, feedPath, nil, token)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req, "fetch pickups")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	var records []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode pickups response")
	}

	items := make([]RemoteItem, 0, len(records))
	for i, raw := range records {
		item, err := decodeRemoteItem(raw)
		if err != nil {
			c.skipRecord(ctx, i, raw, err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *Client) skipRecord(ctx context.Context, index int, raw json.RawMessage, err error) {
	c.metrics.IncMalformed()
	if c.logg == nil {
		return
	}
	fields := map[string]any{"index": index, "error": err.Error()}
	if id := gjson.GetBytes(raw, "id"); id.Exists() {
		fields["remote_id"] = id.String()
	}
	c.logg.Warn(c.logg.WithFields(ctx, fields), "skipping malformed feed record")
}

func decodeRemoteItem(raw json.RawMessage) (RemoteItem, error) {
	var wire remoteItemWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return RemoteItem{}, err
	}
	if wire.ID == "" {
		return RemoteItem{}, fmt.Errorf("pickup without id")
	}
	date, err := ParseDate(wire.Date)
	if err != nil {
		return RemoteItem{}, fmt.Errorf("pickup %s: %w", wire.ID, err)
	}

	return RemoteItem{
		ID:             string(wire.ID),
		PartnerID:      string(wire.PartnerID),
		WilayaID:       string(wire.WilayaID),
		Date:           date,
		Address:        wire.Address,
		Phone:          string(wire.Phone),
		SecondaryPhone: wire.SecondaryPhone,
		Province:       wire.Province,
		Note:           wire.Note,
		PartnerName:    PartnerName(raw),
		Raw:            append(json.RawMessage(nil), raw...),
	}, nil
}

// PartnerName reads the embedded partner name. The join comes back either as
// an object or as a one-element array depending on the relation cardinality.
func PartnerName(raw []byte) *string {
	partners := gjson.GetBytes(raw, "partners")
	var name gjson.Result
	switch {
	case partners.IsArray():
		name = partners.Get("0.name")
	case partners.IsObject():
		name = partners.Get("name")
	default:
		return nil
	}
	value := strings.TrimSpace(name.String())
	if !name.Exists() || value == "" {
		return nil
	}
	return &value
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseDate accepts the timestamp shapes the platform emits. Values without a
// zone are read as UTC.
func ParseDate(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("missing date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", value)
}

// flexString decodes JSON strings and numbers into their textual form.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}
