package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/medjbersoundous/backend-ramassage-packers/api/responses"
	"github.com/medjbersoundous/backend-ramassage-packers/internal/broadcast"
	pkgerrors "github.com/medjbersoundous/backend-ramassage-packers/pkg/errors"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/logger"
)

const defaultHeartbeat = 25 * time.Second

// ChangeSubscriber yields pickup change signals for one client.
type ChangeSubscriber interface {
	Subscribe(ctx context.Context) (<-chan broadcast.Event, func() error, error)
}

// PickupEvents streams "pickupsChanged" signals as Server-Sent Events until
// the client disconnects. Clients refetch the list on every event.
func PickupEvents(sub ChangeSubscriber, heartbeat time.Duration, logg *logger.Logger) http.HandlerFunc {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "streaming unsupported"))
			return
		}

		ctx := r.Context()
		events, closeSub, err := sub.Subscribe(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscribe to pickup changes"))
			return
		}
		defer func() {
			if err := closeSub(); err != nil && logg != nil {
				logg.Error(ctx, "failed to close change subscription", err)
			}
		}()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, ": connected\n\n")
		flusher.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case evt, ok := <-events:
				if !ok {
					return
				}
				payload, err := json.Marshal(evt)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
