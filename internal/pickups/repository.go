package pickups

import (
	"context"
	"time"

	"github.com/medjbersoundous/backend-ramassage-packers/internal/repo"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/db/models"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/enums"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const idLookupChunk = 500

// Repository is the local mirror of assigned pickups.
type Repository struct {
	repo.Base
}

// NewRepository constructs a pickups repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// InsertIfAbsent creates the pickup unless a row with the same id exists.
// It reports whether a row was written.
func (r *Repository) InsertIfAbsent(ctx context.Context, pickup *models.Pickup) (bool, error) {
	res := r.DB(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(pickup)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ExistingIDs returns the subset of ids already stored, whatever their status.
func (r *Repository) ExistingIDs(ctx context.Context, ids []string) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(ids))
	for start := 0; start < len(ids); start += idLookupChunk {
		end := min(start+idLookupChunk, len(ids))
		var found []string
		if err := r.DB(ctx).
			Model(&models.Pickup{}).
			Where("id IN ?", ids[start:end]).
			Pluck("id", &found).Error; err != nil {
			return nil, err
		}
		for _, id := range found {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

// DeleteByStatusBefore removes pickups in one of statuses dated strictly
// before cutoff.
func (r *Repository) DeleteByStatusBefore(ctx context.Context, statuses []enums.PickupStatus, cutoff time.Time) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	res := r.DB(ctx).
		Where("status IN ? AND date < ?", statuses, cutoff.UTC()).
		Delete(&models.Pickup{})
	return res.RowsAffected, res.Error
}

// FindByID loads a pickup by its remote id.
func (r *Repository) FindByID(ctx context.Context, id string) (*models.Pickup, error) {
	var pickup models.Pickup
	if err := r.DB(ctx).First(&pickup, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &pickup, nil
}

// ListFilter narrows List. Zero values mean no constraint.
type ListFilter struct {
	AssignedTo *uint
	Status     *enums.PickupStatus
	From       time.Time
	To         time.Time
}

// List returns pickups matching filter ordered by date then id.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]models.Pickup, error) {
	q := r.DB(ctx).Model(&models.Pickup{})
	if filter.AssignedTo != nil {
		q = q.Where("assigned_to = ?", *filter.AssignedTo)
	}
	if filter.Status != nil {
		q = q.Where("status = ?", *filter.Status)
	}
	if !filter.From.IsZero() {
		q = q.Where("date >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		q = q.Where("date < ?", filter.To.UTC())
	}

	var out []models.Pickup
	if err := q.Order("date ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Update applies column updates to one pickup and returns the stored row.
func (r *Repository) Update(ctx context.Context, id string, updates map[string]any) (*models.Pickup, error) {
	if len(updates) > 0 {
		updates["updated_at"] = time.Now().UTC()
		res := r.DB(ctx).Model(&models.Pickup{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			return nil, gorm.ErrRecordNotFound
		}
	}
	return r.FindByID(ctx, id)
}
