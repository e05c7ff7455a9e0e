package vouchers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/storefront/storefront-backend/pkg/db"
	"github.com/storefront/storefront-backend/pkg/db/models"
)

var (
	// ErrNotFound is returned when no voucher matches the lookup.
	ErrNotFound = errors.New("voucher not found")
	// ErrExhausted is returned when the usage limit was reached concurrently.
	ErrExhausted = errors.New("voucher usage limit reached")
)

// Repository loads and consumes vouchers. Voucher CRUD lives elsewhere.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Voucher, error)
	FindByCodeForUpdate(ctx context.Context, code string) (*models.Voucher, error)
	Consume(ctx context.Context, id uuid.UUID) error
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db, now: time.Now}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

func (r *repository) FindForUpdate(ctx context.Context, id uuid.UUID) (*models.Voucher, error) {
	return r.find(ctx, "id = ?", id)
}

// FindByCodeForUpdate matches codes case-insensitively.
func (r *repository) FindByCodeForUpdate(ctx context.Context, code string) (*models.Voucher, error) {
	return r.find(ctx, "UPPER(code) = ?", strings.ToUpper(strings.TrimSpace(code)))
}

func (r *repository) find(ctx context.Context, query string, arg any) (*models.Voucher, error) {
	var voucher models.Voucher
	err := dbpkg.ForUpdate(r.db.WithContext(ctx)).Where(query, arg).First(&voucher).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &voucher, nil
}

// Consume increments the usage count only while the limit allows it, so two
// orders racing for the last use cannot both succeed.
func (r *repository) Consume(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE vouchers
		SET usage_count = usage_count + 1, updated_at = ?
		WHERE id = ? AND (usage_limit = 0 OR usage_count < usage_limit)
	`, r.now().UTC(), id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrExhausted
	}
	return nil
}
