package collectors

import (
	"context"
	"time"

	"github.com/medjbersoundous/backend-ramassage-packers/internal/repo"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/db"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/db/models"
	dbtypes "github.com/medjbersoundous/backend-ramassage-packers/pkg/db/types"
	pkgerrors "github.com/medjbersoundous/backend-ramassage-packers/pkg/errors"
	"gorm.io/gorm"
)

// Repository exposes collector persistence operations.
type Repository struct {
	repo.Base
}

// NewRepository constructs a collectors repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// Create inserts a collector. Nil lists are stored as empty arrays.
func (r *Repository) Create(ctx context.Context, collector *models.Collector) error {
	if collector.Communes == nil {
		collector.Communes = dbtypes.StringList{}
	}
	if collector.ExpoPushTokens == nil {
		collector.ExpoPushTokens = dbtypes.StringList{}
	}
	if err := r.DB(ctx).Create(collector).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "username already taken")
		}
		return err
	}
	return nil
}

// ListAll returns every collector ordered by id, which is also the
// assignment priority order.
func (r *Repository) ListAll(ctx context.Context) ([]models.Collector, error) {
	var out []models.Collector
	if err := r.DB(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// FindByID loads a collector by id.
func (r *Repository) FindByID(ctx context.Context, id uint) (*models.Collector, error) {
	var collector models.Collector
	if err := r.DB(ctx).First(&collector, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &collector, nil
}

// UpdateCredential overwrites the stored upstream token triple.
func (r *Repository) UpdateCredential(ctx context.Context, id uint, access, refresh *string, expiresAt *time.Time) error {
	res := r.DB(ctx).
		Model(&models.Collector{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"general_access_token":     access,
			"general_refresh_token":    refresh,
			"general_token_expires_at": expiresAt,
			"updated_at":               time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// AddPushTokens registers device tokens on the collector and returns the
// resulting list. Known tokens are kept once.
func (r *Repository) AddPushTokens(ctx context.Context, id uint, tokens []string) (dbtypes.StringList, error) {
	var out dbtypes.StringList
	err := r.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var collector models.Collector
		if err := tx.Select("id", "expo_push_tokens").First(&collector, "id = ?", id).Error; err != nil {
			return err
		}
		out = collector.ExpoPushTokens.With(tokens)
		if len(out) == len(collector.ExpoPushTokens) {
			return nil
		}
		return tx.Model(&models.Collector{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"expo_push_tokens": out,
				"updated_at":       time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemovePushTokens drops the given device tokens from the collector.
func (r *Repository) RemovePushTokens(ctx context.Context, id uint, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	return r.DB(ctx).Transaction(func(tx *gorm.DB) error {
		var collector models.Collector
		if err := tx.Select("id", "expo_push_tokens").First(&collector, "id = ?", id).Error; err != nil {
			return err
		}
		remaining := collector.ExpoPushTokens.Without(tokens)
		if len(remaining) == len(collector.ExpoPushTokens) {
			return nil
		}
		return tx.Model(&models.Collector{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"expo_push_tokens": remaining,
				"updated_at":       time.Now().UTC(),
			}).Error
	})
}
