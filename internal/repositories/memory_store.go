package repositories

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ecomapp/internal/models"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory stand-in for the relational database. It backs
// the memory repositories and MemoryTxManager, which emulates row-level
// exclusive locking with per-product channel mutexes and rolls writes back by
// restoring pre-transaction snapshots. Used for local development without a
// DSN and for tests that need real lock contention without a database.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]models.Product
	orders   map[string]models.Order
	users    map[string]models.User
	rowLocks map[string]chan struct{}
	lockWait time.Duration
}

// NewMemoryStore creates an empty MemoryStore. lockWait bounds how long a
// transaction may wait for a contended row lock before failing with
// ErrLockTimeout.
func NewMemoryStore(lockWait time.Duration) *MemoryStore {
	return &MemoryStore{
		products: make(map[string]models.Product),
		orders:   make(map[string]models.Order),
		users:    make(map[string]models.User),
		rowLocks: make(map[string]chan struct{}),
		lockWait: lockWait,
	}
}

// lockRow acquires the exclusive lock for a product row, creating the lock
// lazily for rows that have never been locked before. Lock existence is
// independent of row existence so that locking a missing id still serializes
// concurrent callers.
func (s *MemoryStore) lockRow(ctx context.Context, id string) error {
	s.mu.Lock()
	ch, ok := s.rowLocks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.rowLocks[id] = ch
	}
	s.mu.Unlock()

	if s.lockWait <= 0 {
		select {
		case ch <- struct{}{}:
			return nil
		case <-ctx.Done():
			return ErrLockTimeout
		}
	}

	timer := time.NewTimer(s.lockWait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ErrLockTimeout
	case <-timer.C:
		return ErrLockTimeout
	}
}

func (s *MemoryStore) unlockRow(id string) {
	s.mu.RLock()
	ch := s.rowLocks[id]
	s.mu.RUnlock()
	<-ch
}

// MemoryTxManager implements TxManager over a MemoryStore.
type MemoryTxManager struct {
	store *MemoryStore
}

// NewMemoryTxManager creates a transaction manager bound to store.
func NewMemoryTxManager(store *MemoryStore) *MemoryTxManager {
	return &MemoryTxManager{store: store}
}

// RunInTransaction executes fn with transaction-scoped stores. On error,
// every product touched by the transaction is restored to its snapshot and
// every inserted order is removed; in both cases all row locks are released
// only after the outcome is applied, so a blocked competitor always observes
// committed state.
func (m *MemoryTxManager) RunInTransaction(ctx context.Context, fn func(tx TxStores) error) error {
	t := &memoryTx{
		store:     m.store,
		ctx:       ctx,
		snapshots: make(map[string]*models.Product),
	}
	err := fn(t)
	if err != nil {
		t.rollback()
	}
	t.releaseLocks()
	return err
}

// memoryTx tracks one in-flight transaction: which rows it locked, what they
// looked like before the first lock, and which orders it inserted.
type memoryTx struct {
	store     *MemoryStore
	ctx       context.Context
	locked    []string
	snapshots map[string]*models.Product // nil value: row did not exist at lock time
	inserted  []string
}

func (t *memoryTx) Products() TxProductStore { return t }
func (t *memoryTx) Orders() TxOrderStore     { return t }

// GetForUpdate takes the row lock on first access; repeated calls for the
// same id within one transaction reuse the held lock instead of deadlocking.
func (t *memoryTx) GetForUpdate(id string) (*models.Product, error) {
	if _, held := t.snapshots[id]; !held {
		if err := t.store.lockRow(t.ctx, id); err != nil {
			return nil, err
		}
		t.locked = append(t.locked, id)

		t.store.mu.RLock()
		current, ok := t.store.products[id]
		t.store.mu.RUnlock()
		if ok {
			snapshot := current
			t.snapshots[id] = &snapshot
		} else {
			t.snapshots[id] = nil
		}
	}

	t.store.mu.RLock()
	product, ok := t.store.products[id]
	t.store.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &product, nil
}

// SetStock writes through to the store immediately; the snapshot taken at
// lock time is what rollback restores.
func (t *memoryTx) SetStock(id string, newStock int) error {
	if _, held := t.snapshots[id]; !held {
		return fmt.Errorf("product %s was not locked in this transaction", id)
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	product, ok := t.store.products[id]
	if !ok {
		return ErrNotFound
	}
	product.Stock = newStock
	t.store.products[id] = product
	return nil
}

// Insert stores the order and remembers it for removal on rollback.
func (t *memoryTx) Insert(order *models.Order) error {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt

	t.store.mu.Lock()
	t.store.orders[order.ID] = *order
	t.store.mu.Unlock()

	t.inserted = append(t.inserted, order.ID)
	return nil
}

func (t *memoryTx) rollback() {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for id, snapshot := range t.snapshots {
		if snapshot != nil {
			t.store.products[id] = *snapshot
		}
	}
	for _, id := range t.inserted {
		delete(t.store.orders, id)
	}
}

func (t *memoryTx) releaseLocks() {
	for _, id := range t.locked {
		t.store.unlockRow(id)
	}
}

// MemoryProductRepository implements ProductRepository over a MemoryStore.
type MemoryProductRepository struct {
	store *MemoryStore
}

// NewMemoryProductRepository creates a catalog repository bound to store.
func NewMemoryProductRepository(store *MemoryStore) *MemoryProductRepository {
	return &MemoryProductRepository{store: store}
}

// GetAll returns all products.
func (r *MemoryProductRepository) GetAll() ([]models.Product, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	products := make([]models.Product, 0, len(r.store.products))
	for _, p := range r.store.products {
		products = append(products, p)
	}
	return products, nil
}

// GetByID returns a product by its ID.
func (r *MemoryProductRepository) GetByID(id string) (*models.Product, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	product, ok := r.store.products[id]
	if !ok {
		return nil, fmt.Errorf("product with ID %s: %w", id, ErrNotFound)
	}
	return &product, nil
}

// Create adds a new product.
func (r *MemoryProductRepository) Create(product *models.Product) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if product.ID == "" {
		product.ID = uuid.New().String()
	}
	r.store.products[product.ID] = *product
	return nil
}

// Update modifies an existing product.
func (r *MemoryProductRepository) Update(product *models.Product) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.products[product.ID]; !ok {
		return fmt.Errorf("product with ID %s for update: %w", product.ID, ErrNotFound)
	}
	r.store.products[product.ID] = *product
	return nil
}

// Delete removes a product by its ID.
func (r *MemoryProductRepository) Delete(id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.products[id]; !ok {
		return fmt.Errorf("product with ID %s for deletion: %w", id, ErrNotFound)
	}
	delete(r.store.products, id)
	return nil
}

// MemoryOrderRepository implements OrderRepository over a MemoryStore.
type MemoryOrderRepository struct {
	store *MemoryStore
}

// NewMemoryOrderRepository creates an order repository bound to store.
func NewMemoryOrderRepository(store *MemoryStore) *MemoryOrderRepository {
	return &MemoryOrderRepository{store: store}
}

// GetAll returns all orders.
func (r *MemoryOrderRepository) GetAll() ([]models.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	orders := make([]models.Order, 0, len(r.store.orders))
	for _, order := range r.store.orders {
		orders = append(orders, order)
	}
	return orders, nil
}

// GetByID returns an order by its ID.
func (r *MemoryOrderRepository) GetByID(id string) (*models.Order, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	order, ok := r.store.orders[id]
	if !ok {
		return nil, fmt.Errorf("order with ID %s: %w", id, ErrNotFound)
	}
	return &order, nil
}

// UpdateStatus updates the status of an order.
func (r *MemoryOrderRepository) UpdateStatus(id string, status string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[id]
	if !ok {
		return fmt.Errorf("order with ID %s for status update: %w", id, ErrNotFound)
	}
	order.Status = status
	order.UpdatedAt = time.Now()
	r.store.orders[id] = order
	return nil
}

// MemoryUserRepository implements UserRepository over a MemoryStore.
type MemoryUserRepository struct {
	store *MemoryStore
}

// NewMemoryUserRepository creates a user repository bound to store.
func NewMemoryUserRepository(store *MemoryStore) *MemoryUserRepository {
	return &MemoryUserRepository{store: store}
}

// Create adds a new user.
func (r *MemoryUserRepository) Create(user *models.User) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	r.store.users[user.ID] = *user
	return nil
}

// GetByUsername returns a user by username.
func (r *MemoryUserRepository) GetByUsername(username string) (*models.User, error) {
	return r.findOne(func(u models.User) bool { return u.Username == username }, username)
}

// GetByEmail returns a user by email.
func (r *MemoryUserRepository) GetByEmail(email string) (*models.User, error) {
	return r.findOne(func(u models.User) bool { return u.Email == email }, email)
}

// GetByID returns a user by ID.
func (r *MemoryUserRepository) GetByID(id string) (*models.User, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	user, ok := r.store.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return &user, nil
}

func (r *MemoryUserRepository) findOne(match func(models.User) bool, key string) (*models.User, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	for _, user := range r.store.users {
		if match(user) {
			u := user
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", key, ErrNotFound)
}
