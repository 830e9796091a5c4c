package repositories

import (
	"context"
	"sync"
	"time"

	"dinein_backend/internal/models"
)

type memoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*models.Order
	seq    int64
}

// NewMemoryOrderRepository returns an in-process OrderRepository. Orders are
// deep-copied on the way in and out so callers never share state with the store.
func NewMemoryOrderRepository() OrderRepository {
	return &memoryOrderRepository{orders: make(map[string]*models.Order)}
}

func (r *memoryOrderRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return ErrDuplicateKey
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = now
	}
	r.seq++
	order.OrderNumber = r.seq
	order.Version = 1
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *memoryOrderRepository) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return o.Clone(), nil
}

func (r *memoryOrderRepository) GetOrders(ctx context.Context, filters models.OrderFilters) ([]models.Order, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	all := r.snapshot()
	page, total := applyOrderFilters(all, filters)
	return page, total, nil
}

func (r *memoryOrderRepository) FindOpenOrderForTable(ctx context.Context, restaurantID, tableID string) (*models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	best := newestOpenOrder(r.snapshot(), restaurantID, tableID)
	if best == nil {
		return nil, ErrNotFound
	}
	return best.Clone(), nil
}

func (r *memoryOrderRepository) UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrVersionConflict
	}
	order.Version = expectedVersion + 1
	order.OrderNumber = stored.OrderNumber
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *memoryOrderRepository) snapshot() []models.Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, *o.Clone())
	}
	return out
}
