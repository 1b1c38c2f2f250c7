package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/medjbersoundous/backend-ramassage-packers/api/responses"
	"github.com/medjbersoundous/backend-ramassage-packers/api/validators"
	dbtypes "github.com/medjbersoundous/backend-ramassage-packers/pkg/db/types"
	pkgerrors "github.com/medjbersoundous/backend-ramassage-packers/pkg/errors"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/logger"
)

// PushTokenStore persists the Expo device tokens of a collector.
type PushTokenStore interface {
	AddPushTokens(ctx context.Context, collectorID uint, tokens []string) (dbtypes.StringList, error)
	RemovePushTokens(ctx context.Context, collectorID uint, tokens []string) error
}

type pushTokensRequest struct {
	Tokens []string `json:"tokens" validate:"required,min=1,max=10,dive,required,max=255"`
}

type pushTokensResponse struct {
	Tokens []string `json:"tokens"`
}

func isExpoPushToken(token string) bool {
	if !strings.HasSuffix(token, "]") {
		return false
	}
	return strings.HasPrefix(token, "ExponentPushToken[") || strings.HasPrefix(token, "ExpoPushToken[")
}

func decodePushTokens(r *http.Request) ([]string, error) {
	var req pushTokensRequest
	if err := validators.DecodeJSONBody(r, &req); err != nil {
		return nil, err
	}
	tokens := make([]string, 0, len(req.Tokens))
	for _, raw := range req.Tokens {
		token := strings.TrimSpace(raw)
		if !isExpoPushToken(token) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid push token").
				WithDetails(map[string]any{"token": token})
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// RegisterPushTokens adds device tokens to the calling collector.
func RegisterPushTokens(store PushTokenStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tokens, err := decodePushTokens(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		stored, err := store.AddPushTokens(r.Context(), actor.ID, tokens)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, collectorStoreError(err, "register push tokens"))
			return
		}
		logg.Info(logg.WithCollectorID(r.Context(), actor.ID), "push tokens registered")
		responses.WriteSuccess(w, pushTokensResponse{Tokens: stored})
	}
}

// UnregisterPushTokens drops device tokens from the calling collector, for
// example on logout.
func UnregisterPushTokens(store PushTokenStore, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tokens, err := decodePushTokens(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := store.RemovePushTokens(r.Context(), actor.ID, tokens); err != nil {
			responses.WriteError(r.Context(), logg, w, collectorStoreError(err, "unregister push tokens"))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func collectorStoreError(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "collector not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, msg)
}
