package repositories

import (
	"ecomapp/internal/models"
)

// ProductRepository defines the interface for catalog product data access.
// It never touches stock on the order placement path; that goes through
// TxProductStore under a row lock.
type ProductRepository interface {
	GetAll() ([]models.Product, error)
	GetByID(id string) (*models.Product, error)
	Create(product *models.Product) error
	Update(product *models.Product) error
	Delete(id string) error
}
