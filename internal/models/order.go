package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Order status values. An order is created as pending and transitions to
// completed through the fulfillment consumer; stock-affecting fields never
// change after creation.
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
)

// LineItem is a single entry in an order placement request. Fields are
// pointers so the handler and service can tell an absent field apart from a
// zero value.
type LineItem struct {
	ProductID *string `json:"id"`
	Quantity  *int    `json:"quantity"`
}

// OrderItem is the immutable snapshot of a line item taken when the order was
// placed. Price is the unit price read under the row lock, not the live
// product price.
type OrderItem struct {
	ProductID string  `json:"id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
}

// OrderItems is persisted as a single JSON column on the order row.
type OrderItems []OrderItem

// Value implements driver.Valuer so GORM can write the JSON column.
func (items OrderItems) Value() (driver.Value, error) {
	return json.Marshal(items)
}

// Scan implements sql.Scanner so GORM can read the JSON column back.
func (items *OrderItems) Scan(value interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, items)
	case string:
		return json.Unmarshal([]byte(v), items)
	default:
		return fmt.Errorf("unsupported type %T for order items", value)
	}
}

// Order represents a placed customer order. It is written exactly once,
// atomically with the stock decrements it caused.
type Order struct {
	ID         string     `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Items      OrderItems `json:"products" gorm:"type:json"`
	TotalPrice float64    `json:"total_price" validate:"gte=1"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
