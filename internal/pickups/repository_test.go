package pickups

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/medjbersoundous/backend-ramassage-packers/pkg/db/models"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/enums"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&models.Collector{}, &models.Pickup{}))
	return conn
}

func newPickup(id string, date time.Time, status enums.PickupStatus) *models.Pickup {
	return &models.Pickup{
		ID:        id,
		PartnerID: "partner-1",
		WilayaID:  "16",
		Date:      date.UTC(),
		Address:   "12 rue Didouche Mourad",
		Phone:     "0555000000",
		Province:  "Kouba",
		Status:    status,
	}
}

func TestInsertIfAbsentIsIdempotent(t *testing.T) {
	r := NewRepository(newTestDB(t))
	ctx := context.Background()
	day := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	first := newPickup("p1", day, enums.PickupStatusPending)
	first.AssignedTo = uintPtr(1)
	created, err := r.InsertIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	second := newPickup("p1", day, enums.PickupStatusPending)
	second.AssignedTo = uintPtr(2)
	created, err = r.InsertIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)

	stored, err := r.FindByID(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, stored.AssignedTo)
	assert.Equal(t, uint(1), *stored.AssignedTo, "existing assignment must not be overwritten")
}

func TestExistingIDs(t *testing.T) {
	r := NewRepository(newTestDB(t))
	ctx := context.Background()
	day := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	for _, p := range []*models.Pickup{
		newPickup("a", day, enums.PickupStatusPending),
		newPickup("b", day, enums.PickupStatusDone),
	} {
		_, err := r.InsertIfAbsent(ctx, p)
		require.NoError(t, err)
	}

	found, err := r.ExistingIDs(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, found, 2)
	assert.Contains(t, found, "a")
	assert.Contains(t, found, "b")

	empty, err := r.ExistingIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDeleteByStatusBefore(t *testing.T) {
	r := NewRepository(newTestDB(t))
	ctx := context.Background()
	cutoff := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	rows := []*models.Pickup{
		newPickup("done-old", cutoff.Add(-time.Hour), enums.PickupStatusDone),
		newPickup("done-today", cutoff, enums.PickupStatusDone),
		newPickup("pending-old", cutoff.AddDate(0, 0, -5), enums.PickupStatusPending),
		newPickup("canceled-old", cutoff.AddDate(0, 0, -1), enums.PickupStatusCanceled),
	}
	for _, p := range rows {
		_, err := r.InsertIfAbsent(ctx, p)
		require.NoError(t, err)
	}

	n, err := r.DeleteByStatusBefore(ctx, []enums.PickupStatus{enums.PickupStatusDone}, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := r.ExistingIDs(ctx, []string{"done-old", "done-today", "pending-old", "canceled-old"})
	require.NoError(t, err)
	assert.NotContains(t, left, "done-old")
	assert.Contains(t, left, "done-today")
	assert.Contains(t, left, "pending-old", "pending rows are never removed")
	assert.Contains(t, left, "canceled-old")

	n, err = r.DeleteByStatusBefore(ctx, nil, cutoff)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListFilters(t *testing.T) {
	db := newTestDB(t)
	r := NewRepository(db)
	ctx := context.Background()
	require.NoError(t, db.Create(&models.Collector{ID: 1, Username: "c1", PhoneNumber: "1"}).Error)
	require.NoError(t, db.Create(&models.Collector{ID: 2, Username: "c2", PhoneNumber: "2"}).Error)

	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	mine := newPickup("b", day.Add(10*time.Hour), enums.PickupStatusPending)
	mine.AssignedTo = uintPtr(1)
	mineEarly := newPickup("a", day.Add(8*time.Hour), enums.PickupStatusDone)
	mineEarly.AssignedTo = uintPtr(1)
	theirs := newPickup("c", day.Add(9*time.Hour), enums.PickupStatusPending)
	theirs.AssignedTo = uintPtr(2)
	yesterday := newPickup("d", day.Add(-2*time.Hour), enums.PickupStatusPending)
	yesterday.AssignedTo = uintPtr(1)
	for _, p := range []*models.Pickup{mine, mineEarly, theirs, yesterday} {
		_, err := r.InsertIfAbsent(ctx, p)
		require.NoError(t, err)
	}

	out, err := r.List(ctx, ListFilter{AssignedTo: uintPtr(1), From: day, To: day.AddDate(0, 0, 1)})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "b", out[1].ID)

	pending := enums.PickupStatusPending
	out, err = r.List(ctx, ListFilter{Status: &pending, From: day, To: day.AddDate(0, 0, 1)})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].ID)
	assert.Equal(t, "b", out[1].ID)

	all, err := r.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestUpdate(t *testing.T) {
	r := NewRepository(newTestDB(t))
	ctx := context.Background()
	_, err := r.InsertIfAbsent(ctx, newPickup("p1", time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC), enums.PickupStatusPending))
	require.NoError(t, err)

	updated, err := r.Update(ctx, "p1", map[string]any{"status": enums.PickupStatusDone, "note": "left at the door"})
	require.NoError(t, err)
	assert.Equal(t, enums.PickupStatusDone, updated.Status)
	require.NotNil(t, updated.Note)
	assert.Equal(t, "left at the door", *updated.Note)

	unchanged, err := r.Update(ctx, "p1", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, enums.PickupStatusDone, unchanged.Status)

	_, err = r.Update(ctx, "missing", map[string]any{"status": enums.PickupStatusDone})
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}
