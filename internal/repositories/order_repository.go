package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"dinein_backend/internal/models"

	"github.com/lib/pq" // For pq.Error
)

// OrderRepository defines the interface for order persistence.
// Items, history and payment details are embedded in the order document.
type OrderRepository interface {
	// CreateOrder stores a new order, assigning its OrderNumber and Version 1.
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, orderID string) (*models.Order, error)
	GetOrders(ctx context.Context, filters models.OrderFilters) ([]models.Order, int, error) // orders, total count, error
	// FindOpenOrderForTable returns the newest unpaid, non-terminal order of a table or ErrNotFound.
	FindOpenOrderForTable(ctx context.Context, restaurantID, tableID string) (*models.Order, error)
	// UpdateOrder replaces the stored order only if its version still equals
	// expectedVersion. On success order.Version is expectedVersion+1.
	UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) error
}

var terminalStatuses = []string{
	string(models.OrderStatusCompleted),
	string(models.OrderStatusCancelled),
	string(models.OrderStatusRejected),
}

var openPaymentStatuses = []string{
	string(models.PaymentStatusPending),
	string(models.PaymentStatusFailed),
}

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository creates a postgres backed OrderRepository.
func NewOrderRepository(db *sql.DB) OrderRepository {
	return &orderRepository{db: db}
}

const orderColumns = `document, order_number, version`

func (r *orderRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = now
	}
	order.Version = 1

	doc, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("%w: encoding order %s: %v", ErrDatabaseError, order.ID, err)
	}

	query := `INSERT INTO orders
	            (id, restaurant_id, table_id, customer_id, waiter_id, status, payment_status,
	             total, document, version, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	          RETURNING order_number`

	err = r.db.QueryRowContext(ctx, query,
		order.ID, order.RestaurantID, order.TableID, order.CustomerID, order.WaiterID,
		string(order.Status), string(order.PaymentStatus), order.Total, doc, order.Version,
		order.CreatedAt, order.UpdatedAt,
	).Scan(&order.OrderNumber)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("%w: %s (constraint: %s)", ErrDuplicateKey, pqErr.Message, pqErr.Constraint)
		}
		return fmt.Errorf("%w: creating order: %v", ErrDatabaseError, err)
	}
	return nil
}

func (r *orderRepository) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	order, err := scanOrder(r.db.QueryRowContext(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: getting order by ID %s: %v", ErrDatabaseError, orderID, err)
	}
	return order, nil
}

func (r *orderRepository) GetOrders(ctx context.Context, filters models.OrderFilters) ([]models.Order, int, error) {
	orders := []models.Order{}
	totalCount := 0

	var queryBuilder strings.Builder
	queryBuilder.WriteString(`SELECT ` + orderColumns + `, COUNT(*) OVER() AS total_count FROM orders`)

	var conditions []string
	var args []interface{}
	argCounter := 1

	if filters.RestaurantID != nil && *filters.RestaurantID != "" {
		conditions = append(conditions, fmt.Sprintf("restaurant_id = $%d", argCounter))
		args = append(args, *filters.RestaurantID)
		argCounter++
	}
	if filters.TableID != nil && *filters.TableID != "" {
		conditions = append(conditions, fmt.Sprintf("table_id = $%d", argCounter))
		args = append(args, *filters.TableID)
		argCounter++
	}
	if filters.Status != nil && *filters.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argCounter))
		args = append(args, *filters.Status)
		argCounter++
	}
	if filters.PaymentStatus != nil && *filters.PaymentStatus != "" {
		conditions = append(conditions, fmt.Sprintf("payment_status = $%d", argCounter))
		args = append(args, *filters.PaymentStatus)
		argCounter++
	}

	if len(conditions) > 0 {
		queryBuilder.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	queryBuilder.WriteString(" ORDER BY created_at DESC, order_number DESC")

	if filters.PageSize > 0 {
		queryBuilder.WriteString(fmt.Sprintf(" LIMIT $%d", argCounter))
		args = append(args, filters.PageSize)
		argCounter++
		if filters.Page > 0 {
			offset := (filters.Page - 1) * filters.PageSize
			queryBuilder.WriteString(fmt.Sprintf(" OFFSET $%d", argCounter))
			args = append(args, offset)
		}
	}

	rows, err := r.db.QueryContext(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: querying orders: %v", ErrDatabaseError, err)
	}
	defer rows.Close()

	for rows.Next() {
		var doc []byte
		var number, version int64
		if err := rows.Scan(&doc, &number, &version, &totalCount); err != nil {
			return nil, 0, fmt.Errorf("%w: scanning order: %v", ErrDatabaseError, err)
		}
		o, err := decodeOrder(doc, number, version)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *o)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: iterating order rows: %v", ErrDatabaseError, err)
	}
	return orders, totalCount, nil
}

func (r *orderRepository) FindOpenOrderForTable(ctx context.Context, restaurantID, tableID string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
	          WHERE restaurant_id = $1 AND table_id = $2
	            AND status <> ALL($3) AND payment_status = ANY($4)
	          ORDER BY created_at DESC
	          LIMIT 1`
	order, err := scanOrder(r.db.QueryRowContext(ctx, query,
		restaurantID, tableID, pq.Array(terminalStatuses), pq.Array(openPaymentStatuses)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: finding open order for table %s: %v", ErrDatabaseError, tableID, err)
	}
	return order, nil
}

func (r *orderRepository) UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) error {
	order.Version = expectedVersion + 1
	doc, err := json.Marshal(order)
	if err != nil {
		order.Version = expectedVersion
		return fmt.Errorf("%w: encoding order %s: %v", ErrDatabaseError, order.ID, err)
	}

	query := `UPDATE orders
	          SET status = $1, payment_status = $2, waiter_id = $3, total = $4,
	              document = $5, version = $6, updated_at = $7
	          WHERE id = $8 AND version = $9`
	result, err := r.db.ExecContext(ctx, query,
		string(order.Status), string(order.PaymentStatus), order.WaiterID, order.Total,
		doc, order.Version, order.UpdatedAt, order.ID, expectedVersion,
	)
	if err != nil {
		order.Version = expectedVersion
		return fmt.Errorf("%w: updating order %s: %v", ErrDatabaseError, order.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		order.Version = expectedVersion
		return fmt.Errorf("%w: getting rows affected for order %s: %v", ErrDatabaseError, order.ID, err)
	}
	if rowsAffected == 0 {
		order.Version = expectedVersion
		var exists bool
		err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("%w: checking order %s after failed update: %v", ErrDatabaseError, order.ID, err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func scanOrder(row scanner) (*models.Order, error) {
	var doc []byte
	var number, version int64
	if err := row.Scan(&doc, &number, &version); err != nil {
		return nil, err
	}
	return decodeOrder(doc, number, version)
}

// decodeOrder unmarshals the JSONB document; the row's columns win for the
// fields assigned by the database.
func decodeOrder(doc []byte, number, version int64) (*models.Order, error) {
	var o models.Order
	if err := json.Unmarshal(doc, &o); err != nil {
		return nil, fmt.Errorf("%w: decoding order document: %v", ErrDatabaseError, err)
	}
	o.OrderNumber = number
	o.Version = version
	return &o, nil
}
