package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"ecomapp/internal/models"
	"ecomapp/internal/repositories"
)

// OrderEventPublisher publishes order lifecycle events to the message broker.
// Publishing happens after commit and never affects the order outcome.
type OrderEventPublisher interface {
	PublishOrderCreated(order *models.Order) error
}

// OrderService owns order placement: it validates line items, reserves stock
// under row locks inside one transaction, computes the total price, and
// persists the order atomically with the decrements.
type OrderService struct {
	orderRepo repositories.OrderRepository
	txManager repositories.TxManager
	publisher OrderEventPublisher
	audit     AuditSink
}

// NewOrderService creates a new OrderService. publisher may be nil when no
// broker is configured; audit defaults to the standard logger sink.
func NewOrderService(orderRepo repositories.OrderRepository, txManager repositories.TxManager, publisher OrderEventPublisher, audit AuditSink) *OrderService {
	if audit == nil {
		audit = LogAuditSink{}
	}
	return &OrderService{
		orderRepo: orderRepo,
		txManager: txManager,
		publisher: publisher,
		audit:     audit,
	}
}

// stockChange records one decrement for the audit trail.
type stockChange struct {
	productID string
	oldStock  int
	newStock  int
}

// PlaceOrder validates the line items and runs the reservation inside a
// single transaction: every referenced product row is locked in product-id
// order, checked, and decremented; the order row is inserted last. Any
// failure rolls the whole transaction back, leaving stock and orders exactly
// as they were.
//
// Duplicate product ids are processed as independent sequential decrements
// against the progressively reduced stock, in the order the caller sent them.
func (s *OrderService) PlaceOrder(ctx context.Context, items []models.LineItem) (*models.Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}

	for _, item := range items {
		if item.ProductID == nil || *item.ProductID == "" {
			return nil, &MissingFieldError{Field: "id"}
		}
		if item.Quantity == nil {
			return nil, &MissingFieldError{Field: "quantity"}
		}
		if *item.Quantity <= 0 {
			return nil, &InvalidQuantityError{Quantity: *item.Quantity}
		}
	}

	// Locks are acquired in product-id order so two orders referencing the
	// same products can never deadlock waiting on each other.
	lockOrder := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if !seen[*item.ProductID] {
			seen[*item.ProductID] = true
			lockOrder = append(lockOrder, *item.ProductID)
		}
	}
	sort.Strings(lockOrder)

	var order *models.Order
	var changes []stockChange

	err := s.txManager.RunInTransaction(ctx, func(tx repositories.TxStores) error {
		locked := make(map[string]*models.Product, len(lockOrder))
		for _, id := range lockOrder {
			product, err := tx.Products().GetForUpdate(id)
			if err != nil {
				if errors.Is(err, repositories.ErrNotFound) {
					return &ProductNotFoundError{ProductID: id}
				}
				return fmt.Errorf("failed to lock product %s: %w", id, err)
			}
			locked[id] = product
		}

		var totalPrice float64
		snapshot := make(models.OrderItems, 0, len(items))
		changes = changes[:0]

		// Stock checks and decrements run in the caller-supplied item
		// order against the locked rows.
		for _, item := range items {
			product := locked[*item.ProductID]
			quantity := *item.Quantity
			if product.Stock < quantity {
				return &InsufficientStockError{
					ProductID: product.ID,
					Name:      product.Name,
					Requested: quantity,
					Available: product.Stock,
				}
			}

			remaining := product.Stock - quantity
			if err := tx.Products().SetStock(product.ID, remaining); err != nil {
				return fmt.Errorf("failed to decrement stock for product %s: %w", product.ID, err)
			}
			changes = append(changes, stockChange{productID: product.ID, oldStock: product.Stock, newStock: remaining})
			product.Stock = remaining

			totalPrice += product.Price * float64(quantity)
			snapshot = append(snapshot, models.OrderItem{
				ProductID: product.ID,
				Quantity:  quantity,
				Price:     product.Price,
			})
		}

		order = &models.Order{
			Items:      snapshot,
			TotalPrice: totalPrice,
			Status:     models.OrderStatusPending,
		}
		return tx.Orders().Insert(order)
	})
	if err != nil {
		if errors.Is(err, repositories.ErrLockTimeout) {
			return nil, ErrLockTimeout
		}
		if !IsOrderRejection(err) {
			s.audit.RecordError(err, "OrderService -> PlaceOrder", nil)
		}
		return nil, err
	}

	for _, change := range changes {
		s.audit.RecordInfo("Stock reserved.", "OrderService -> PlaceOrder", map[string]interface{}{
			"order_id":        order.ID,
			"product_id":      change.productID,
			"old_stock":       change.oldStock,
			"remaining_stock": change.newStock,
		})
	}
	s.audit.RecordInfo("Order created successfully.", "OrderService -> PlaceOrder", map[string]interface{}{
		"order_id":    order.ID,
		"total_price": order.TotalPrice,
	})

	if s.publisher != nil {
		if err := s.publisher.PublishOrderCreated(order); err != nil {
			s.audit.RecordError(err, "OrderService -> PlaceOrder", map[string]interface{}{
				"order_id": order.ID,
			})
		}
	}

	return order, nil
}

// GetAllOrders retrieves all orders.
func (s *OrderService) GetAllOrders() ([]models.Order, error) {
	return s.orderRepo.GetAll()
}

// GetOrderByID retrieves a single order by its ID.
func (s *OrderService) GetOrderByID(id string) (*models.Order, error) {
	return s.orderRepo.GetByID(id)
}

// UpdateOrderStatus moves an order through fulfillment. Only the status
// column changes; line items and total price are immutable after placement.
func (s *OrderService) UpdateOrderStatus(id string, status string) error {
	if status != models.OrderStatusPending && status != models.OrderStatusCompleted {
		return fmt.Errorf("invalid order status: %s", status)
	}
	if err := s.orderRepo.UpdateStatus(id, status); err != nil {
		return fmt.Errorf("failed to update order status for order %s: %w", id, err)
	}
	return nil
}
