package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ecomapp/internal/models"
	"ecomapp/internal/repositories"
	"ecomapp/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOrderEventPublisher is a mock implementation of services.OrderEventPublisher
type MockOrderEventPublisher struct {
	mock.Mock
}

func (m *MockOrderEventPublisher) PublishOrderCreated(order *models.Order) error {
	args := m.Called(order)
	return args.Error(0)
}

// orderTestEnv bundles an order service wired to the in-memory store so tests
// can inspect stock and order rows directly after each call.
type orderTestEnv struct {
	store       *repositories.MemoryStore
	productRepo *repositories.MemoryProductRepository
	orderRepo   *repositories.MemoryOrderRepository
	service     *services.OrderService
	publisher   *MockOrderEventPublisher
}

func newOrderTestEnv(t *testing.T, lockWait time.Duration) *orderTestEnv {
	t.Helper()
	store := repositories.NewMemoryStore(lockWait)
	publisher := new(MockOrderEventPublisher)
	env := &orderTestEnv{
		store:       store,
		productRepo: repositories.NewMemoryProductRepository(store),
		orderRepo:   repositories.NewMemoryOrderRepository(store),
		publisher:   publisher,
	}
	env.service = services.NewOrderService(
		env.orderRepo,
		repositories.NewMemoryTxManager(store),
		publisher,
		services.LogAuditSink{},
	)
	return env
}

func (env *orderTestEnv) seedProduct(t *testing.T, name string, price float64, stock int) *models.Product {
	t.Helper()
	product := &models.Product{Name: name, Description: "test product", Price: price, Stock: stock}
	require.NoError(t, env.productRepo.Create(product))
	return product
}

func (env *orderTestEnv) stockOf(t *testing.T, id string) int {
	t.Helper()
	product, err := env.productRepo.GetByID(id)
	require.NoError(t, err)
	return product.Stock
}

func (env *orderTestEnv) orderCount(t *testing.T) int {
	t.Helper()
	orders, err := env.orderRepo.GetAll()
	require.NoError(t, err)
	return len(orders)
}

func item(id string, quantity int) models.LineItem {
	return models.LineItem{ProductID: &id, Quantity: &quantity}
}

func TestOrderService_PlaceOrder_Success(t *testing.T) {
	env := newOrderTestEnv(t, time.Second)
	laptop := env.seedProduct(t, "Laptop", 1000.0, 10)
	env.publisher.On("PublishOrderCreated", mock.AnythingOfType("*models.Order")).Return(nil).Once()

	order, err := env.service.PlaceOrder(context.Background(), []models.LineItem{item(laptop.ID, 3)})

	require.NoError(t, err)
	require.NotNil(t, order)
	assert.NotEmpty(t, order.ID)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, 3000.0, order.TotalPrice)
	require.Len(t, order.Items, 1)
	assert.Equal(t, laptop.ID, order.Items[0].ProductID)
	assert.Equal(t, 3, order.Items[0].Quantity)
	assert.Equal(t, 1000.0, order.Items[0].Price)

	assert.Equal(t, 7, env.stockOf(t, laptop.ID))
	assert.Equal(t, 1, env.orderCount(t))
	env.publisher.AssertExpectations(t)
}

func TestOrderService_PlaceOrder_InsufficientStock(t *testing.T) {
	env := newOrderTestEnv(t, time.Second)
	laptop := env.seedProduct(t, "Laptop", 1000.0, 10)

	order, err := env.service.PlaceOrder(context.Background(), []models.LineItem{item(laptop.ID, 12)})

	require.Error(t, err)
	assert.Nil(t, order)
	var stockErr *services.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, laptop.ID, stockErr.ProductID)
	assert.Equal(t, 12, stockErr.Requested)
	assert.Equal(t, 10, stockErr.Available)

	assert.Equal(t, 10, env.stockOf(t, laptop.ID))
	assert.Equal(t, 0, env.orderCount(t))
}

func TestOrderService_PlaceOrder_NegativeQuantity(t *testing.T) {
	env := newOrderTestEnv(t, time.Second)
	laptop := env.seedProduct(t, "Laptop", 1000.0, 10)

	order, err := env.service.PlaceOrder(context.Background(), []models.LineItem{item(laptop.ID, -2)})

	require.Error(t, err)
	assert.Nil(t, order)
	var quantityErr *services.InvalidQuantityError
	require.ErrorAs(t, err, &quantityErr)
	assert.Equal(t, -2, quantityErr.Quantity)

	assert.Equal(t, 10, env.stockOf(t, laptop.ID))
	assert.Equal(t, 0, env.orderCount(t))
}

func TestOrderService_PlaceOrder_ProductNotFound(t *testing.T) {
	env := newOrderTestEnv(t, time.Second)

	order, err := env.service.PlaceOrder(context.Background(), []models.LineItem{item("9999", 1)})

	require.Error(t, err)
	assert.Nil(t, order)
	var notFound *services.ProductNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "9999", notFound.ProductID)
	assert.Equal(t, 0, env.orderCount(t))
}

func TestOrderService_PlaceOrder_EmptyOrder(t *testing.T) {
	env := newOrderTestEnv(t, time.Second)

	order, err := env.service.PlaceOrder(context.Background(), nil)

	assert.Nil(t, order)
	assert.ErrorIs(t, err, services.ErrEmptyOrder)
}

func TestOrderService_PlaceOrder_MissingFields(t *testing.T) {
	env := newOrderTestEnv(t, time.Second)
	quantity := 1
	id := "prod-1"

	_, err := env.service.PlaceOrder(context.Background(), []models.LineItem{{Quantity: &quantity}})
	var missing *services.MissingFieldError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "id", missing.Field)

	_, err = env.service.PlaceOrder(context.Background(), []models.LineItem{{ProductID: &id}})
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "quantity", missing.Field)
}

func TestOrderService_PlaceOrder_MultiItemRollback(t *testing.T) {
	env := newOrderTestEnv(t, time.Second)
	laptop := env.seedProduct(t, "Laptop", 1000.0, 10)
	mouse := env.seedProduct(t, "Mouse", 25.0, 2)

	// First item would succeed, second fails the stock check; the whole
	// transaction must roll back.
	order, err := env.service.PlaceOrder(context.Background(), []models.LineItem{
		item(laptop.ID, 2),
		item(mouse.ID, 99),
	})

	require.Error(t, err)
	assert.Nil(t, order)
	var stockErr *services.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)

	assert.Equal(t, 10, env.stockOf(t, laptop.ID))
	assert.Equal(t, 2, env.stockOf(t, mouse.ID))
	assert.Equal(t, 0, env.orderCount(t))
}

func TestOrderService_PlaceOrder_DuplicateLineItems(t *testing.T) {
	env := newOrderTestEnv(t, time.Second)
	laptop := env.seedProduct(t, "Laptop", 100.0, 5)
	env.publisher.On("PublishOrderCreated", mock.AnythingOfType("*models.Order")).Return(nil).Once()

	// Duplicates decrement sequentially against the progressively reduced
	// stock.
	order, err := env.service.PlaceOrder(context.Background(), []models.LineItem{
		item(laptop.ID, 2),
		item(laptop.ID, 2),
	})

	require.NoError(t, err)
	assert.Equal(t, 400.0, order.TotalPrice)
	require.Len(t, order.Items, 2)
	assert.Equal(t, 1, env.stockOf(t, laptop.ID))
}

func TestOrderService_PlaceOrder_DuplicateLineItemsExceedingStock(t *testing.T) {
	env := newOrderTestEnv(t, time.Second)
	laptop := env.seedProduct(t, "Laptop", 100.0, 5)

	order, err := env.service.PlaceOrder(context.Background(), []models.LineItem{
		item(laptop.ID, 3),
		item(laptop.ID, 3),
	})

	require.Error(t, err)
	assert.Nil(t, order)
	var stockErr *services.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)

	// The first decrement rolled back with the rest of the transaction.
	assert.Equal(t, 5, env.stockOf(t, laptop.ID))
	assert.Equal(t, 0, env.orderCount(t))
}

func TestOrderService_PlaceOrder_ConcurrentContention(t *testing.T) {
	env := newOrderTestEnv(t, 2*time.Second)
	laptop := env.seedProduct(t, "Laptop", 100.0, 5)
	env.publisher.On("PublishOrderCreated", mock.AnythingOfType("*models.Order")).Return(nil)

	// Two identical concurrent orders of 3 against stock 5: exactly one
	// must win, the other must fail the stock check after the winner's
	// commit.
	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.service.PlaceOrder(context.Background(), []models.LineItem{item(laptop.ID, 3)})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, stockFailures int
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		var stockErr *services.InsufficientStockError
		if errors.As(err, &stockErr) {
			stockFailures++
		} else {
			t.Fatalf("unexpected error kind: %v", err)
		}
	}

	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, stockFailures)
	assert.Equal(t, 2, env.stockOf(t, laptop.ID))
	assert.Equal(t, 1, env.orderCount(t))
}

func TestOrderService_PlaceOrder_CrossOrderLocking(t *testing.T) {
	env := newOrderTestEnv(t, 2*time.Second)
	laptop := env.seedProduct(t, "Laptop", 100.0, 50)
	mouse := env.seedProduct(t, "Mouse", 10.0, 50)
	env.publisher.On("PublishOrderCreated", mock.AnythingOfType("*models.Order")).Return(nil)

	// Orders referencing the same two products in opposite caller order
	// must not deadlock: locks are always taken in product-id order.
	var wg sync.WaitGroup
	results := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := env.service.PlaceOrder(context.Background(), []models.LineItem{item(laptop.ID, 1), item(mouse.ID, 1)})
		results <- err
	}()
	go func() {
		defer wg.Done()
		_, err := env.service.PlaceOrder(context.Background(), []models.LineItem{item(mouse.ID, 1), item(laptop.ID, 1)})
		results <- err
	}()
	wg.Wait()
	close(results)

	for err := range results {
		assert.NoError(t, err)
	}
	assert.Equal(t, 48, env.stockOf(t, laptop.ID))
	assert.Equal(t, 48, env.stockOf(t, mouse.ID))
	assert.Equal(t, 2, env.orderCount(t))
}

func TestOrderService_PlaceOrder_LockTimeout(t *testing.T) {
	store := repositories.NewMemoryStore(100 * time.Millisecond)
	productRepo := repositories.NewMemoryProductRepository(store)
	orderRepo := repositories.NewMemoryOrderRepository(store)
	txManager := repositories.NewMemoryTxManager(store)
	service := services.NewOrderService(orderRepo, txManager, nil, services.LogAuditSink{})

	product := &models.Product{Name: "Laptop", Price: 100.0, Stock: 5}
	require.NoError(t, productRepo.Create(product))

	// Hold the row lock in another transaction for longer than the lock
	// wait window.
	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = txManager.RunInTransaction(context.Background(), func(tx repositories.TxStores) error {
			if _, err := tx.Products().GetForUpdate(product.ID); err != nil {
				return err
			}
			close(holding)
			<-release
			return nil
		})
	}()

	<-holding
	_, err := service.PlaceOrder(context.Background(), []models.LineItem{item(product.ID, 1)})
	close(release)

	assert.ErrorIs(t, err, services.ErrLockTimeout)
	// A timed-out placement leaves no trace.
	got, repoErr := productRepo.GetByID(product.ID)
	require.NoError(t, repoErr)
	assert.Equal(t, 5, got.Stock)
}

func TestOrderService_PlaceOrder_PublisherFailureDoesNotFailOrder(t *testing.T) {
	env := newOrderTestEnv(t, time.Second)
	laptop := env.seedProduct(t, "Laptop", 100.0, 5)
	env.publisher.On("PublishOrderCreated", mock.AnythingOfType("*models.Order")).
		Return(errors.New("broker down")).Once()

	order, err := env.service.PlaceOrder(context.Background(), []models.LineItem{item(laptop.ID, 1)})

	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, 4, env.stockOf(t, laptop.ID))
	env.publisher.AssertExpectations(t)
}

func TestOrderService_UpdateOrderStatus(t *testing.T) {
	env := newOrderTestEnv(t, time.Second)
	laptop := env.seedProduct(t, "Laptop", 100.0, 5)
	env.publisher.On("PublishOrderCreated", mock.AnythingOfType("*models.Order")).Return(nil).Once()

	order, err := env.service.PlaceOrder(context.Background(), []models.LineItem{item(laptop.ID, 1)})
	require.NoError(t, err)

	require.NoError(t, env.service.UpdateOrderStatus(order.ID, models.OrderStatusCompleted))
	updated, err := env.service.GetOrderByID(order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, updated.Status)

	// Unknown statuses are rejected before touching the store.
	err = env.service.UpdateOrderStatus(order.ID, "shipped")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid order status")
}
