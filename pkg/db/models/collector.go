package models

import (
	"time"

	dbtypes "github.com/medjbersoundous/backend-ramassage-packers/pkg/db/types"
)

// Collector is a field agent covering a set of communes.
type Collector struct {
	ID                  uint               `gorm:"column:id;primaryKey;autoIncrement"`
	Username            string             `gorm:"column:username;not null;uniqueIndex"`
	PhoneNumber         string             `gorm:"column:phone_number;not null"`
	Communes            dbtypes.StringList `gorm:"column:communes;not null"`
	ExpoPushTokens      dbtypes.StringList `gorm:"column:expo_push_tokens;not null"`
	AccessToken         *string            `gorm:"column:general_access_token"`
	RefreshToken        *string            `gorm:"column:general_refresh_token"`
	AccessTokenExpireAt *time.Time         `gorm:"column:general_token_expires_at"`
	CreatedAt           time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
