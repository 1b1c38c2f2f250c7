package models

import (
	"time"

	dbtypes "github.com/medjbersoundous/backend-ramassage-packers/pkg/db/types"
	"github.com/medjbersoundous/backend-ramassage-packers/pkg/enums"
)

// Pickup mirrors one order from the partner feed together with its local
// assignment state. ID is the remote id and never changes.
type Pickup struct {
	ID             string             `gorm:"column:id;primaryKey"`
	PartnerID      string             `gorm:"column:partner_id;not null"`
	WilayaID       string             `gorm:"column:wilaya_id;not null"`
	Date           time.Time          `gorm:"column:date;not null;index"`
	Address        string             `gorm:"column:address;not null"`
	Phone          string             `gorm:"column:phone;not null"`
	SecondaryPhone *string            `gorm:"column:secondary_phone"`
	Province       string             `gorm:"column:province;not null"`
	Note           *string            `gorm:"column:note"`
	Status         enums.PickupStatus `gorm:"column:status;not null;default:pending;index"`
	AssignedTo     *uint              `gorm:"column:assigned_to;index"`
	PartnerName    *string            `gorm:"column:partner_name"`
	Raw            dbtypes.RawJSON    `gorm:"column:raw"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
