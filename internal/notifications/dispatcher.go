package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/db/models"
	pkgerrors "github.com/medjbersoundous/backend-ramassage-packers/pkg/errors"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/expo"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/logger"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/metrics"
	"go.uber.org/multierr"
)

const (
	newPickupTitle = "تم تعيين طلب جديد"
	newPickupType  = "NEW_PICKUP"

	defaultMaxAttempts     uint = 3
	defaultInitialInterval      = 500 * time.Millisecond
	defaultMaxInterval          = 5 * time.Second
)

type pushSender interface {
	Send(ctx context.Context, msg expo.Message) (string, error)
}

type tokenPruner interface {
	RemovePushTokens(ctx context.Context, collectorID uint, tokens []string) error
}

// DispatcherParams wires the assignment notifier.
type DispatcherParams struct {
	Sender          pushSender
	Pruner          tokenPruner
	Logger          *logger.Logger
	Metrics         *metrics.SyncMetrics
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Dispatcher sends "new pickup" pushes to every device of a collector.
type Dispatcher struct {
	sender      pushSender
	pruner      tokenPruner
	logg        *logger.Logger
	metrics     *metrics.SyncMetrics
	maxAttempts uint
	initial     time.Duration
	maxInterval time.Duration
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Sender == nil {
		return nil, fmt.Errorf("push sender required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	d := &Dispatcher{
		sender:      params.Sender,
		pruner:      params.Pruner,
		logg:        params.Logger,
		metrics:     params.Metrics,
		maxAttempts: params.MaxAttempts,
		initial:     params.InitialInterval,
		maxInterval: params.MaxInterval,
	}
	if d.maxAttempts == 0 {
		d.maxAttempts = defaultMaxAttempts
	}
	if d.initial <= 0 {
		d.initial = defaultInitialInterval
	}
	if d.maxInterval <= 0 {
		d.maxInterval = defaultMaxInterval
	}
	return d, nil
}

// AssignmentMessage builds the push sent to collector for a new pickup.
func AssignmentMessage(collector models.Collector, pickup models.Pickup) expo.Message {
	where := strings.TrimSpace(pickup.Address)
	if where == "" {
		where = strings.TrimSpace(pickup.Province)
	}
	return expo.Message{
		Sound: "default",
		Title: newPickupTitle,
		Body:  fmt.Sprintf("%s، لديك طلب جديد في %s", collector.Username, where),
		Data: map[string]any{
			"type":     newPickupType,
			"pickupId": pickup.ID,
		},
	}
}

// NotifyAssignment pushes to each token of collector. Tokens the push service
// reports as unregistered are pruned. The returned error only aggregates
// delivery failures; it never affects the stored assignment.
func (d *Dispatcher) NotifyAssignment(ctx context.Context, collector models.Collector, pickup models.Pickup) error {
	ctx = d.logg.WithFields(ctx, map[string]any{
		"collector_id": collector.ID,
		"pickup_id":    pickup.ID,
	})
	if len(collector.ExpoPushTokens) == 0 {
		d.metrics.IncNotification(metrics.NotificationNoTokens)
		d.logg.Info(ctx, "collector has no push tokens")
		return nil
	}

	template := AssignmentMessage(collector, pickup)
	var (
		invalid []string
		errs    error
	)
	for _, token := range collector.ExpoPushTokens {
		msg := template
		msg.To = token

		err := d.send(ctx, msg)
		switch {
		case err == nil:
			d.metrics.IncNotification(metrics.NotificationSent)
		case errors.Is(err, expo.ErrDeviceNotRegistered):
			d.metrics.IncNotification(metrics.NotificationInvalidToken)
			invalid = append(invalid, token)
		default:
			d.metrics.IncNotification(metrics.NotificationFailed)
			d.logg.Warn(d.logg.WithField(ctx, "error", err.Error()), "push notification failed")
			errs = multierr.Append(errs, err)
		}
	}

	if len(invalid) > 0 {
		d.prune(ctx, collector.ID, invalid)
	}
	return errs
}

func (d *Dispatcher) send(ctx context.Context, msg expo.Message) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.initial
	policy.MaxInterval = d.maxInterval

	_, err := backoff.Retry(ctx, func() (string, error) {
		id, err := d.sender.Send(ctx, msg)
		if err != nil && !retryable(err) {
			return "", backoff.Permanent(err)
		}
		return id, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(d.maxAttempts))
	return err
}

func (d *Dispatcher) prune(ctx context.Context, collectorID uint, tokens []string) {
	if d.pruner == nil {
		return
	}
	logCtx := d.logg.WithFields(ctx, map[string]any{"tokens": len(tokens)})
	if err := d.pruner.RemovePushTokens(ctx, collectorID, tokens); err != nil {
		d.logg.Error(logCtx, "failed to prune push tokens", err)
		return
	}
	d.logg.Info(logCtx, "pruned unregistered push tokens")
}

func retryable(err error) bool {
	if errors.Is(err, expo.ErrDeviceNotRegistered) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var sendErr *expo.SendError
	if errors.As(err, &sendErr) {
		return sendErr.Retryable()
	}
	if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		return false
	}
	return true
}
