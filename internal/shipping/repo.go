package shipping

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// List returns the store's configs with the default first.
func (r *Repository) List(ctx context.Context, storeID uuid.UUID) ([]models.ShippingProviderConfig, error) {
	var out []models.ShippingProviderConfig
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("is_default DESC, created_at ASC, provider ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) ListActive(ctx context.Context, storeID uuid.UUID) ([]models.ShippingProviderConfig, error) {
	var out []models.ShippingProviderConfig
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND is_active = ?", storeID, true).
		Order("is_default DESC, created_at ASC, provider ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) Find(ctx context.Context, storeID uuid.UUID, provider enums.ShippingProvider) (*models.ShippingProviderConfig, error) {
	var cfg models.ShippingProviderConfig
	err := r.db.WithContext(ctx).
		Where("store_id = ? AND provider = ?", storeID, provider).
		First(&cfg).Error
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ClearDefault unsets the default flag on every config of the store.
func (r *Repository) ClearDefault(ctx context.Context, storeID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.ShippingProviderConfig{}).
		Where("store_id = ? AND is_default = ?", storeID, true).
		Update("is_default", false).Error
}

// Create writes every column, including false booleans that would
// otherwise fall back to column defaults.
func (r *Repository) Create(ctx context.Context, cfg *models.ShippingProviderConfig) error {
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Select("*").Create(cfg).Error
}

func (r *Repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.ShippingProviderConfig{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *Repository) Delete(ctx context.Context, storeID uuid.UUID, provider enums.ShippingProvider) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("store_id = ? AND provider = ?", storeID, provider).
		Delete(&models.ShippingProviderConfig{})
	return res.RowsAffected, res.Error
}
