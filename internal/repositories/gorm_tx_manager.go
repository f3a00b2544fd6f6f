package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ecomapp/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormTxManager runs units of work inside a database transaction and exposes
// transaction-scoped stores with SELECT ... FOR UPDATE row locking.
type GormTxManager struct {
	db       *gorm.DB
	lockWait time.Duration
}

// NewGormTxManager creates a GormTxManager. lockWait bounds how long a unit
// of work may block on row locks; zero means no extra bound beyond what the
// database enforces.
func NewGormTxManager(db *gorm.DB, lockWait time.Duration) *GormTxManager {
	return &GormTxManager{db: db, lockWait: lockWait}
}

// RunInTransaction executes fn inside one transaction. A nil return commits;
// any error rolls back all writes and is returned unchanged, except that
// lock-wait failures from the driver are translated to ErrLockTimeout.
func (m *GormTxManager) RunInTransaction(ctx context.Context, fn func(tx TxStores) error) error {
	if m.lockWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.lockWait)
		defer cancel()
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTxStores{tx: tx})
	})
	if err != nil && isLockWaitError(err) {
		return ErrLockTimeout
	}
	return err
}

// isLockWaitError recognizes a lock acquisition that timed out rather than a
// business or connectivity failure. 55P03 is Postgres lock_not_available.
func isLockWaitError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "55P03") || strings.Contains(msg, "lock wait timeout")
}

type gormTxStores struct {
	tx *gorm.DB
}

func (s *gormTxStores) Products() TxProductStore { return &gormTxProductStore{tx: s.tx} }
func (s *gormTxStores) Orders() TxOrderStore     { return &gormTxOrderStore{tx: s.tx} }

type gormTxProductStore struct {
	tx *gorm.DB
}

// GetForUpdate loads a product with an exclusive row lock held until the
// surrounding transaction ends.
func (s *gormTxProductStore) GetForUpdate(id string) (*models.Product, error) {
	var product models.Product
	err := s.tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&product, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock product %s: %w", id, err)
	}
	return &product, nil
}

// SetStock overwrites the stock column of a locked product row.
func (s *gormTxProductStore) SetStock(id string, newStock int) error {
	res := s.tx.Model(&models.Product{}).Where("id = ?", id).Update("stock", newStock)
	if res.Error != nil {
		return fmt.Errorf("failed to update stock for product %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

type gormTxOrderStore struct {
	tx *gorm.DB
}

// Insert persists a new order row, assigning a UUID if none is set.
func (s *gormTxOrderStore) Insert(order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if err := s.tx.Create(order).Error; err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}
