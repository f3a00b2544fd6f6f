package repositories

import (
	"ecomapp/internal/models"
)

// OrderRepository defines the interface for reading orders and moving them
// through fulfillment. Creation is deliberately absent: orders are only ever
// inserted through TxOrderStore, inside the transaction that reserved their
// stock.
type OrderRepository interface {
	GetAll() ([]models.Order, error)
	GetByID(id string) (*models.Order, error)
	UpdateStatus(id string, status string) error
}
