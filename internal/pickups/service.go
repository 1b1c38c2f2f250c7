package pickups

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/medjbersoundous/backend-ramassage-packers/pkg/db/models"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/enums"
	pkgerrors "github.com/medjbersoundous/backend-ramassage-packers/pkg/errors"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/logger"
	"gorm.io/gorm"
)

// Actor is the authenticated caller of a pickup operation.
type Actor struct {
	ID   uint
	Role enums.ActorRole
}

func (a Actor) IsAdmin() bool {
	return a.Role == enums.ActorRoleAdmin
}

type store interface {
	FindByID(ctx context.Context, id string) (*models.Pickup, error)
	List(ctx context.Context, filter ListFilter) ([]models.Pickup, error)
	Update(ctx context.Context, id string, updates map[string]any) (*models.Pickup, error)
}

type collectorLookup interface {
	FindByID(ctx context.Context, id uint) (*models.Collector, error)
}

type statusListener interface {
	OnStatusChange(ctx context.Context, pickup *models.Pickup, newStatus enums.PickupStatus)
}

type changeNotifier interface {
	PickupsChanged(ctx context.Context, reason string)
}

// ServiceParams wires the pickup service.
type ServiceParams struct {
	Store      store
	Collectors collectorLookup
	Propagator statusListener
	Changes    changeNotifier
	Location   *time.Location
	Logger     *logger.Logger
}

// Service implements the collector and admin operations on stored pickups.
type Service struct {
	store      store
	collectors collectorLookup
	propagator statusListener
	changes    changeNotifier
	loc        *time.Location
	logg       *logger.Logger
	now        func() time.Time

	inflight sync.WaitGroup
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("pickup store required")
	}
	if params.Collectors == nil {
		return nil, fmt.Errorf("collector lookup required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	loc := params.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		store:      params.Store,
		collectors: params.Collectors,
		propagator: params.Propagator,
		changes:    params.Changes,
		loc:        loc,
		logg:       params.Logger,
		now:        time.Now,
	}, nil
}

// Wait blocks until status propagations started by Update have returned.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// ListQuery narrows List. Day defaults to today in the reference timezone.
type ListQuery struct {
	Day    *time.Time
	Status *enums.PickupStatus
}

// List returns one day of pickups. Collectors only see their own.
func (s *Service) List(ctx context.Context, actor Actor, query ListQuery) ([]models.Pickup, error) {
	day := s.now()
	if query.Day != nil {
		day = *query.Day
	}
	from, to := DayBounds(day, s.loc)

	filter := ListFilter{From: from, To: to, Status: query.Status}
	if !actor.IsAdmin() {
		id := actor.ID
		filter.AssignedTo = &id
	}
	out, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list pickups")
	}
	return out, nil
}

// Get returns one pickup visible to actor.
func (s *Service) Get(ctx context.Context, actor Actor, id string) (*models.Pickup, error) {
	pickup, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, pickup); err != nil {
		return nil, err
	}
	return pickup, nil
}

// UpdateInput carries the fields a caller may change.
type UpdateInput struct {
	Status *enums.PickupStatus
	Note   *string
}

// Update changes status and/or note. A status change is propagated upstream
// after the local write and never undone by a propagation failure.
func (s *Service) Update(ctx context.Context, actor Actor, id string, input UpdateInput) (*models.Pickup, error) {
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(actor, current); err != nil {
		return nil, err
	}

	updates := map[string]any{}
	statusChanged := false
	if input.Status != nil {
		if !input.Status.IsValid() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status").
				WithDetails(map[string]any{"status": input.Status.String()})
		}
		if *input.Status != current.Status {
			updates["status"] = *input.Status
			statusChanged = true
		}
	}
	if input.Note != nil {
		note := strings.TrimSpace(*input.Note)
		if note == "" {
			updates["note"] = nil
		} else {
			updates["note"] = note
		}
	}

	updated, err := s.store.Update(ctx, id, updates)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "pickup not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update pickup")
	}

	if statusChanged {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"pickup_id": id,
			"from":      current.Status.String(),
			"to":        updated.Status.String(),
		})
		s.logg.Info(logCtx, "pickup status changed")
		if s.propagator != nil {
			snapshot := *updated
			detached := context.WithoutCancel(ctx)
			s.inflight.Add(1)
			go func() {
				defer s.inflight.Done()
				s.propagator.OnStatusChange(detached, &snapshot, snapshot.Status)
			}()
		}
	}
	if len(updates) > 0 && s.changes != nil {
		s.changes.PickupsChanged(ctx, "update")
	}
	return updated, nil
}

// Reassign moves a pickup to another collector. Only admins may do this and
// coverage is not checked.
func (s *Service) Reassign(ctx context.Context, actor Actor, id string, collectorID uint) (*models.Pickup, error) {
	if !actor.IsAdmin() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only admins can reassign pickups")
	}
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	if _, err := s.collectors.FindByID(ctx, collectorID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "collector not found").
				WithDetails(map[string]any{"collector_id": collectorID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load collector")
	}

	updated, err := s.store.Update(ctx, id, map[string]any{"assigned_to": collectorID})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reassign pickup")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{"pickup_id": id, "collector_id": collectorID, "admin_id": actor.ID})
	s.logg.Info(logCtx, "pickup reassigned")
	if s.changes != nil {
		s.changes.PickupsChanged(ctx, "reassign")
	}
	return updated, nil
}

func (s *Service) load(ctx context.Context, id string) (*models.Pickup, error) {
	pickup, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "pickup not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load pickup")
	}
	return pickup, nil
}

func authorize(actor Actor, pickup *models.Pickup) error {
	if actor.IsAdmin() {
		return nil
	}
	if pickup.AssignedTo == nil || *pickup.AssignedTo != actor.ID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "pickup not assigned to collector")
	}
	return nil
}

// DayBounds returns [start, end) of the calendar day containing t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// DayKey is the calendar date of t in loc, formatted YYYY-MM-DD.
func DayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(time.DateOnly)
}
