package cron

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/medjbersoundous/backend-ramassage-packers/internal/credentials"
	"github.com/medjbersoundous/backend-ramassage-packers/internal/pickups"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/config"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/db/models"
	dbtypes "github.com/medjbersoundous/backend-ramassage-packers/pkg/db/types"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/enums"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/logger"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/metrics"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/upstream"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	PickupSyncJobName = "pickup-sync"

	defaultTokenConcurrency  = 4
	defaultNotifyConcurrency = 8
)

// PickupSyncJobParams configure the pickup reconciliation job.
type PickupSyncJobParams struct {
	Logger     *logger.Logger
	Collectors collectorLister
	Pickups    pickupStore
	Tokens     tokenSource
	Feed       feedFetcher
	Notifier   assignmentNotifier
	Changes    changeNotifier
	Metrics    *metrics.SyncMetrics

	Location              *time.Location
	FeedScope             string
	DoneRetentionDays     int
	CanceledRetentionDays int
	TokenConcurrency      int
	NotifyConcurrency     int
}

type collectorLister interface {
	ListAll(ctx context.Context) ([]models.Collector, error)
}

type pickupStore interface {
	InsertIfAbsent(ctx context.Context, pickup *models.Pickup) (bool, error)
	ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error)
	DeleteByStatusBefore(ctx context.Context, statuses []enums.PickupStatus, cutoff time.Time) (int64, error)
}

type tokenSource interface {
	GetValidToken(ctx context.Context, principal credentials.Principal) (string, error)
}

type feedFetcher interface {
	FetchAll(ctx context.Context, token string) ([]upstream.RemoteItem, error)
}

type assignmentNotifier interface {
	NotifyAssignment(ctx context.Context, collector models.Collector, pickup models.Pickup) error
}

type changeNotifier interface {
	PickupsChanged(ctx context.Context, reason string)
}

// NewPickupSyncJob builds the job that mirrors today's partner orders into
// the local store and assigns each new one to the first covering collector.
func NewPickupSyncJob(params PickupSyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Collectors == nil {
		return nil, fmt.Errorf("collector repository required")
	}
	if params.Pickups == nil {
		return nil, fmt.Errorf("pickup repository required")
	}
	if params.Tokens == nil {
		return nil, fmt.Errorf("credential broker required")
	}
	if params.Feed == nil {
		return nil, fmt.Errorf("feed client required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notification dispatcher required")
	}

	job := &pickupSyncJob{
		logg:              params.Logger,
		collectors:        params.Collectors,
		pickups:           params.Pickups,
		tokens:            params.Tokens,
		feed:              params.Feed,
		notifier:          params.Notifier,
		changes:           params.Changes,
		metrics:           params.Metrics,
		loc:               params.Location,
		scope:             strings.TrimSpace(params.FeedScope),
		doneRetention:     max(params.DoneRetentionDays, 1),
		canceledRetention: max(params.CanceledRetentionDays, 1),
		tokenLimit:        params.TokenConcurrency,
		notifyLimit:       params.NotifyConcurrency,
		now:               time.Now,
	}
	if job.loc == nil {
		job.loc = time.UTC
	}
	if job.scope == "" {
		job.scope = config.FeedScopeGlobal
	}
	if job.scope != config.FeedScopeGlobal && job.scope != config.FeedScopePerCollector {
		return nil, fmt.Errorf("unknown feed scope %q", job.scope)
	}
	if job.tokenLimit <= 0 {
		job.tokenLimit = defaultTokenConcurrency
	}
	if job.notifyLimit <= 0 {
		job.notifyLimit = defaultNotifyConcurrency
	}
	return job, nil
}

type pickupSyncJob struct {
	logg       *logger.Logger
	collectors collectorLister
	pickups    pickupStore
	tokens     tokenSource
	feed       feedFetcher
	notifier   assignmentNotifier
	changes    changeNotifier
	metrics    *metrics.SyncMetrics

	loc               *time.Location
	scope             string
	doneRetention     int
	canceledRetention int
	tokenLimit        int
	notifyLimit       int
	now               func() time.Time
}

func (j *pickupSyncJob) Name() string { return PickupSyncJobName }

// syncReport summarizes one cycle.
type syncReport struct {
	deleted    int64
	fetched    int
	today      int
	assigned   int
	created    int
	conflicts  int
	unmatched  int
	skipped    int
	notifyErrs int
}

func (j *pickupSyncJob) Run(ctx context.Context) error {
	now := j.now()
	report := &syncReport{}

	var errs error
	deleted, err := j.sweep(ctx, now)
	report.deleted = deleted
	errs = multierr.Append(errs, err)

	if err := j.ingest(ctx, now, report); err != nil {
		errs = multierr.Append(errs, err)
	}

	if (report.created > 0 || report.deleted > 0) && j.changes != nil {
		j.changes.PickupsChanged(ctx, "sync")
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"deleted":             report.deleted,
		"fetched":             report.fetched,
		"today":               report.today,
		"assigned":            report.assigned,
		"created":             report.created,
		"conflicts":           report.conflicts,
		"unmatched":           report.unmatched,
		"collectors_skipped":  report.skipped,
		"notification_errors": report.notifyErrs,
	}), "pickup sync summary")

	if errs == nil {
		j.metrics.MarkSuccess(now)
	}
	return errs
}

// sweep removes terminal pickups whose day has aged past its grace period.
func (j *pickupSyncJob) sweep(ctx context.Context, now time.Time) (int64, error) {
	startOfToday, _ := pickups.DayBounds(now, j.loc)

	var (
		total int64
		errs  error
	)
	rules := []struct {
		label    string
		statuses []enums.PickupStatus
		days     int
	}{
		{label: string(enums.PickupStatusDone), statuses: []enums.PickupStatus{enums.PickupStatusDone}, days: j.doneRetention},
		{label: string(enums.PickupStatusCanceled), statuses: enums.CanceledStatuses(), days: j.canceledRetention},
	}
	for _, rule := range rules {
		cutoff := startOfToday.AddDate(0, 0, -(rule.days - 1))
		n, err := j.pickups.DeleteByStatusBefore(ctx, rule.statuses, cutoff)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete %s pickups: %w", rule.label, err))
			continue
		}
		total += n
		j.metrics.AddDeleted(rule.label, n)
	}
	return total, errs
}

type authorizedCollector struct {
	collector models.Collector
	token     string
}

type assignment struct {
	collector models.Collector
	item      upstream.RemoteItem
}

func (j *pickupSyncJob) ingest(ctx context.Context, now time.Time, report *syncReport) error {
	all, err := j.collectors.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list collectors: %w", err)
	}
	slices.SortStableFunc(all, func(a, b models.Collector) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})

	eligible := j.authorize(ctx, all)
	report.skipped = len(all) - len(eligible)
	if len(eligible) == 0 {
		return nil
	}

	feeds, err := j.fetch(ctx, eligible, report)
	if err != nil {
		return err
	}

	today := pickups.DayKey(now, j.loc)
	ids := make([]string, 0)
	seen := make(map[string]struct{})
	for _, items := range feeds {
		for _, item := range items {
			if pickups.DayKey(item.Date, j.loc) != today {
				continue
			}
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			ids = append(ids, item.ID)
		}
	}
	report.today = len(ids)
	if len(ids) == 0 {
		return nil
	}

	existing, err := j.pickups.ExistingIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("load existing pickups: %w", err)
	}

	plan := j.plan(eligible, feeds, today, existing)
	report.unmatched = len(ids) - len(existing) - len(plan)
	j.metrics.AddUnmatched(report.unmatched)

	var (
		errs    error
		created []assignment
	)
	for _, a := range plan {
		row := newPickupRow(a)
		ok, err := j.pickups.InsertIfAbsent(ctx, row)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("insert pickup %s: %w", a.item.ID, err))
			continue
		}
		if !ok {
			report.conflicts++
			j.metrics.IncConflict()
			continue
		}
		created = append(created, a)
	}
	report.created = len(created)
	report.assigned = len(created)
	j.metrics.AddAssigned(len(created))

	report.notifyErrs = j.notify(ctx, created)
	return errs
}

// authorize resolves an upstream token per collector. Collectors without a
// usable token sit out this cycle.
func (j *pickupSyncJob) authorize(ctx context.Context, all []models.Collector) []authorizedCollector {
	tokens := make([]string, len(all))
	var g errgroup.Group
	g.SetLimit(j.tokenLimit)
	for i, c := range all {
		g.Go(func() error {
			token, err := j.tokens.GetValidToken(ctx, credentials.CollectorPrincipal(c.ID))
			if err != nil {
				j.metrics.IncCredentialFailure()
				logCtx := j.logg.WithCollectorID(ctx, c.ID)
				j.logg.Error(logCtx, "no upstream token for collector, skipping", err)
				return nil
			}
			tokens[i] = token
			return nil
		})
	}
	_ = g.Wait()

	out := make([]authorizedCollector, 0, len(all))
	for i, c := range all {
		if tokens[i] != "" {
			out = append(out, authorizedCollector{collector: c, token: tokens[i]})
		}
	}
	return out
}

// fetch returns the feed visible to each eligible collector, keyed by
// collector id. In global scope every collector shares one fetch made with
// the service account.
func (j *pickupSyncJob) fetch(ctx context.Context, eligible []authorizedCollector, report *syncReport) (map[uint][]upstream.RemoteItem, error) {
	feeds := make(map[uint][]upstream.RemoteItem, len(eligible))

	if j.scope == config.FeedScopeGlobal {
		token, err := j.tokens.GetValidToken(ctx, credentials.ServicePrincipal())
		if err != nil {
			j.metrics.IncCredentialFailure()
			return nil, fmt.Errorf("service token: %w", err)
		}
		items, err := j.feed.FetchAll(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("fetch feed: %w", err)
		}
		report.fetched = len(items)
		j.metrics.AddFetched(len(items))
		for _, ac := range eligible {
			feeds[ac.collector.ID] = items
		}
		return feeds, nil
	}

	for _, ac := range eligible {
		items, err := j.feed.FetchAll(ctx, ac.token)
		if err != nil {
			return nil, fmt.Errorf("fetch feed for collector %d: %w", ac.collector.ID, err)
		}
		report.fetched += len(items)
		j.metrics.AddFetched(len(items))
		feeds[ac.collector.ID] = items
	}
	return feeds, nil
}

// plan walks collectors in id order and gives each new item of today to the
// first collector whose areas cover it. An item is assigned at most once.
func (j *pickupSyncJob) plan(eligible []authorizedCollector, feeds map[uint][]upstream.RemoteItem, today string, existing map[string]struct{}) []assignment {
	planned := make(map[string]struct{})
	var out []assignment
	for _, ac := range eligible {
		for _, item := range feeds[ac.collector.ID] {
			if pickups.DayKey(item.Date, j.loc) != today {
				continue
			}
			if _, ok := existing[item.ID]; ok {
				continue
			}
			if _, ok := planned[item.ID]; ok {
				continue
			}
			if !pickups.Matches(ac.collector.Communes, item.Province) {
				continue
			}
			planned[item.ID] = struct{}{}
			out = append(out, assignment{collector: ac.collector, item: item})
		}
	}
	return out
}

// notify sends one push per created assignment and waits for all of them.
// It returns the number of assignments whose delivery had errors.
func (j *pickupSyncJob) notify(ctx context.Context, created []assignment) int {
	failed := make([]bool, len(created))
	var g errgroup.Group
	g.SetLimit(j.notifyLimit)
	for i, a := range created {
		g.Go(func() error {
			row := newPickupRow(a)
			if err := j.notifier.NotifyAssignment(ctx, a.collector, *row); err != nil {
				failed[i] = true
				logCtx := j.logg.WithPickupID(j.logg.WithCollectorID(ctx, a.collector.ID), a.item.ID)
				j.logg.Error(logCtx, "assignment notification failed", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, f := range failed {
		if f {
			n++
		}
	}
	return n
}

func newPickupRow(a assignment) *models.Pickup {
	assignee := a.collector.ID
	return &models.Pickup{
		ID:             a.item.ID,
		PartnerID:      a.item.PartnerID,
		WilayaID:       a.item.WilayaID,
		Date:           a.item.Date.UTC(),
		Address:        a.item.Address,
		Phone:          a.item.Phone,
		SecondaryPhone: a.item.SecondaryPhone,
		Province:       a.item.Province,
		Note:           a.item.Note,
		Status:         enums.PickupStatusPending,
		AssignedTo:     &assignee,
		PartnerName:    a.item.PartnerName,
		Raw:            dbtypes.RawJSON(a.item.Raw),
	}
}
