package repositories

import (
	"context"

	"ecomapp/internal/models"
)

// TxProductStore is the transaction-scoped view of product rows. It is only
// reachable through TxManager.RunInTransaction, so every call runs inside an
// active transaction.
type TxProductStore interface {
	// GetForUpdate reads a product under an exclusive row lock. A
	// concurrent transaction calling GetForUpdate on the same id blocks
	// until this transaction commits or rolls back. Returns ErrNotFound
	// if the product does not exist.
	GetForUpdate(id string) (*models.Product, error)

	// SetStock overwrites the stock count of a product previously locked
	// in this transaction.
	SetStock(id string, newStock int) error
}

// TxOrderStore writes order rows inside the transaction that performed the
// matching stock decrements.
type TxOrderStore interface {
	// Insert persists a new order, assigning its ID.
	Insert(order *models.Order) error
}

// TxStores bundles the repositories scoped to one transaction. All writes
// performed through it commit or roll back together.
type TxStores interface {
	Products() TxProductStore
	Orders() TxOrderStore
}

// TxManager executes a unit of work inside a single flat transaction. If fn
// returns nil the transaction commits; any error rolls back every write made
// through the TxStores and is returned to the caller. Lock-wait failures are
// surfaced as ErrLockTimeout.
type TxManager interface {
	RunInTransaction(ctx context.Context, fn func(tx TxStores) error) error
}
