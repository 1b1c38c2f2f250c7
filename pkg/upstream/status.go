package upstream

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	pkgerrors "github.com/medjbersoundous/backend-ramassage-packers/pkg/errors"
)

// PushStatus writes the numeric status code of one pickup upstream.
func (c *Client) PushStatus(ctx context.Context, token string, remoteID string, code int) error {
	if c == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "upstream client not configured")
	}
	id := strings.TrimSpace(remoteID)
	if id == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "pickup id is required")
	}

	path := "rest/v1/pickups?id=eq." + url.QueryEscape(id)
	req, err := c.newRequest(ctx, http.MethodPatch, path, map[string]int{"status": code}, token)
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "return=minimal")

	resp, err := c.do(req, "push pickup status")
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	return nil
}
