package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"fadebook/backend/internal/domain"
	"fadebook/backend/internal/store"
)

// CatalogRepo reads service snapshots from the services table owned by the catalog.
type CatalogRepo struct {
	db *bun.DB
}

func NewCatalogRepo(db *bun.DB) *CatalogRepo {
	return &CatalogRepo{db: db}
}

func (r *CatalogRepo) GetService(ctx context.Context, serviceID string) (domain.ServiceSnapshot, error) {
	var svc domain.ServiceSnapshot
	err := r.db.NewSelect().
		Model(&svc).
		Where("id = ?", serviceID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ServiceSnapshot{}, store.ErrNotFound
		}
		return domain.ServiceSnapshot{}, err
	}
	return svc, nil
}
