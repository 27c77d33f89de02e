package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// Notification is a merchant-facing alert. Rows are listed newest first per
// store, and only read rows are eligible for retention cleanup.
type Notification struct {
	ID        uuid.UUID              `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	StoreID   uuid.UUID              `gorm:"type:uuid;not null;index:idx_notifications_store_created,priority:1" json:"store_id"`
	Type      enums.NotificationType `gorm:"type:text;not null" json:"type"`
	Title     string                 `gorm:"type:text;not null" json:"title"`
	Message   string                 `gorm:"type:text;not null" json:"message"`
	Link      *string                `gorm:"type:text" json:"link,omitempty"`
	ReadAt    *time.Time             `gorm:"type:timestamptz" json:"read_at,omitempty"`
	CreatedAt time.Time              `gorm:"type:timestamptz;default:now();index:idx_notifications_store_created,priority:2" json:"created_at"`
}

func (Notification) TableName() string { return "notifications" }

func (n Notification) IsRead() bool { return n.ReadAt != nil }
