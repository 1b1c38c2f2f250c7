package pickups

import (
	"context"

	"github.com/medjbersoundous/backend-ramassage-packers/internal/credentials"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/db/models"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/enums"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/logger"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/metrics"
)

type tokenSource interface {
	GetValidToken(ctx context.Context, principal credentials.Principal) (string, error)
}

type statusPusher interface {
	PushStatus(ctx context.Context, token string, remoteID string, code int) error
}

// Propagator mirrors local status changes to the order platform. It is best
// effort: failures are logged and counted, never returned.
type Propagator struct {
	tokens  tokenSource
	pusher  statusPusher
	logg    *logger.Logger
	metrics *metrics.SyncMetrics
}

func NewPropagator(tokens tokenSource, pusher statusPusher, logg *logger.Logger, m *metrics.SyncMetrics) *Propagator {
	return &Propagator{tokens: tokens, pusher: pusher, logg: logg, metrics: m}
}

// OnStatusChange pushes newStatus for pickup using the assignee's credential.
func (p *Propagator) OnStatusChange(ctx context.Context, pickup *models.Pickup, newStatus enums.PickupStatus) {
	if p == nil || pickup == nil {
		return
	}
	logCtx := p.logg.WithFields(ctx, map[string]any{
		"pickup_id": pickup.ID,
		"status":    newStatus.String(),
	})

	code, err := newStatus.UpstreamCode()
	if err != nil {
		p.metrics.IncPropagation(metrics.PropagationSkipped)
		p.logg.Warn(logCtx, "status has no upstream code, skipping propagation")
		return
	}
	if pickup.AssignedTo == nil {
		p.metrics.IncPropagation(metrics.PropagationSkipped)
		p.logg.Warn(logCtx, "pickup has no assignee, skipping propagation")
		return
	}
	logCtx = p.logg.WithCollectorID(logCtx, *pickup.AssignedTo)

	token, err := p.tokens.GetValidToken(ctx, credentials.CollectorPrincipal(*pickup.AssignedTo))
	if err != nil {
		p.metrics.IncPropagation(metrics.PropagationFailed)
		p.logg.Error(logCtx, "no upstream token for status propagation", err)
		return
	}
	if err := p.pusher.PushStatus(ctx, token, pickup.ID, code); err != nil {
		p.metrics.IncPropagation(metrics.PropagationFailed)
		p.logg.Error(logCtx, "status propagation failed", err)
		return
	}

	p.metrics.IncPropagation(metrics.PropagationPushed)
	p.logg.Info(p.logg.WithField(logCtx, "code", code), "status propagated")
}
