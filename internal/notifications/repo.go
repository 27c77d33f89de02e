package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

// Repository is the notifications table. Every read and write is scoped to
// one store except the retention purge.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notification *models.Notification) error
	List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error)
	MarkRead(ctx context.Context, storeID, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error)
	MarkAllRead(ctx context.Context, storeID uuid.UUID, now time.Time) (int64, error)
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

type listNotificationsParams struct {
	StoreID    uuid.UUID
	Limit      int
	Cursor     *pagination.Cursor
	UnreadOnly bool
}

// notificationMarkResult separates "no such row for this store" from "already read".
type notificationMarkResult struct {
	Updated bool
	Found   bool
}

func ownedBy(storeID uuid.UUID) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB { return q.Where("store_id = ?", storeID) }
}

func unread(q *gorm.DB) *gorm.DB { return q.Where("read_at IS NULL") }

func (r *gormRepository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &gormRepository{db: tx}
}

func (r *gormRepository) notifications(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Notification{})
}

func (r *gormRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *gormRepository) List(ctx context.Context, params listNotificationsParams) ([]models.Notification, *pagination.Cursor, error) {
	q := r.notifications(ctx).Scopes(ownedBy(params.StoreID))
	if params.UnreadOnly {
		q = q.Scopes(unread)
	}

	var rows []models.Notification
	if err := pagination.Apply(q, params.Cursor, params.Limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	items, next := pagination.Page(rows, params.Limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	return items, next, nil
}

func (r *gormRepository) MarkRead(ctx context.Context, storeID, notificationID uuid.UUID, now time.Time) (notificationMarkResult, error) {
	var row models.Notification
	err := r.notifications(ctx).
		Scopes(ownedBy(storeID)).
		Select("id", "read_at").
		Where("id = ?", notificationID).
		Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return notificationMarkResult{}, nil
	case err != nil:
		return notificationMarkResult{}, err
	case row.IsRead():
		return notificationMarkResult{Found: true}, nil
	}

	// read_at guard keeps a concurrent mark from moving the timestamp
	res := r.notifications(ctx).
		Scopes(ownedBy(storeID), unread).
		Where("id = ?", notificationID).
		UpdateColumn("read_at", now)
	if res.Error != nil {
		return notificationMarkResult{}, res.Error
	}
	return notificationMarkResult{Found: true, Updated: res.RowsAffected > 0}, nil
}

func (r *gormRepository) MarkAllRead(ctx context.Context, storeID uuid.UUID, now time.Time) (int64, error) {
	res := r.notifications(ctx).Scopes(ownedBy(storeID), unread).UpdateColumn("read_at", now)
	return res.RowsAffected, res.Error
}

// DeleteReadBefore purges acknowledged alerts older than cutoff. Unread
// alerts stay no matter how old.
func (r *gormRepository) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("read_at IS NOT NULL AND created_at < ?", cutoff).
		Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}
