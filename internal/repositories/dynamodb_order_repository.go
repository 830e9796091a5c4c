package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"dinein_backend/internal/aws"
	"dinein_backend/internal/models"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// orderSeqKey is the partition key of the counter item holding the last order number.
const orderSeqKey = "__order_seq__"

// dynamoOrderRecord is the shape persisted in the orders table. The full order
// travels as a JSON document; the other attributes exist for conditions and scans.
type dynamoOrderRecord struct {
	OrderID       string    `dynamodbav:"order_id"` // PK
	RestaurantID  string    `dynamodbav:"restaurant_id"`
	TableID       string    `dynamodbav:"table_id"`
	Status        string    `dynamodbav:"status"`
	PaymentStatus string    `dynamodbav:"payment_status"`
	OrderNumber   int64     `dynamodbav:"order_number"`
	Version       int64     `dynamodbav:"version"`
	CreatedAt     time.Time `dynamodbav:"created_at"`
	Document      string    `dynamodbav:"document"`
}

type dynamoOrderRepository struct {
	client    aws.DynamoDBAPI
	tableName string
}

// NewDynamoOrderRepository creates an OrderRepository on a DynamoDB table whose
// partition key is the string attribute "order_id".
func NewDynamoOrderRepository(client aws.DynamoDBAPI, tableName string) OrderRepository {
	return &dynamoOrderRepository{client: client, tableName: tableName}
}

func (r *dynamoOrderRepository) CreateOrder(ctx context.Context, order *models.Order) error {
	number, err := r.nextOrderNumber(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = now
	}
	order.OrderNumber = number
	order.Version = 1

	item, err := marshalOrderRecord(order)
	if err != nil {
		return err
	}
	_, err = r.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:           &r.tableName,
		Item:                item,
		ConditionExpression: awsString("attribute_not_exists(order_id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("%w: order %s already exists", ErrDuplicateKey, order.ID)
		}
		return fmt.Errorf("%w: put order: %v", ErrDatabaseError, err)
	}
	return nil
}

func (r *dynamoOrderRepository) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	if orderID == orderSeqKey {
		return nil, ErrNotFound
	}
	out, err := r.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &r.tableName,
		Key:            orderKey(orderID),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get order %s: %v", ErrDatabaseError, orderID, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	return unmarshalOrderRecord(out.Item)
}

func (r *dynamoOrderRepository) GetOrders(ctx context.Context, filters models.OrderFilters) ([]models.Order, int, error) {
	all, err := r.scanAll(ctx)
	if err != nil {
		return nil, 0, err
	}
	page, total := applyOrderFilters(all, filters)
	return page, total, nil
}

func (r *dynamoOrderRepository) FindOpenOrderForTable(ctx context.Context, restaurantID, tableID string) (*models.Order, error) {
	all, err := r.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	best := newestOpenOrder(all, restaurantID, tableID)
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// UpdateOrder replaces the whole item guarded by "#v = :expected", the same
// compare-and-swap a status-only UpdateItem would do but covering items and payment too.
func (r *dynamoOrderRepository) UpdateOrder(ctx context.Context, order *models.Order, expectedVersion int64) error {
	order.Version = expectedVersion + 1
	item, err := marshalOrderRecord(order)
	if err != nil {
		order.Version = expectedVersion
		return err
	}
	_, err = r.client.PutItem(ctx, &dyn.PutItemInput{
		TableName:                &r.tableName,
		Item:                     item,
		ConditionExpression:      awsString("#v = :expected"),
		ExpressionAttributeNames: map[string]string{"#v": "version"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
		},
	})
	if err == nil {
		return nil
	}
	order.Version = expectedVersion
	if !isConditionFailed(err) {
		return fmt.Errorf("%w: update order %s: %v", ErrDatabaseError, order.ID, err)
	}
	if _, getErr := r.GetOrderByID(ctx, order.ID); errors.Is(getErr, ErrNotFound) {
		return ErrNotFound
	}
	return ErrVersionConflict
}

func (r *dynamoOrderRepository) nextOrderNumber(ctx context.Context) (int64, error) {
	out, err := r.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:        &r.tableName,
		Key:              orderKey(orderSeqKey),
		UpdateExpression: awsString("ADD seq :one"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
		ReturnValues: types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: increment order sequence: %v", ErrDatabaseError, err)
	}
	seq, ok := out.Attributes["seq"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("%w: order sequence missing from update output", ErrDatabaseError)
	}
	n, err := strconv.ParseInt(seq.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse order sequence %q: %v", ErrDatabaseError, seq.Value, err)
	}
	return n, nil
}

func (r *dynamoOrderRepository) scanAll(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	var startKey map[string]types.AttributeValue
	for {
		out, err := r.client.Scan(ctx, &dyn.ScanInput{
			TableName:                 &r.tableName,
			ExclusiveStartKey:         startKey,
			FilterExpression:          awsString("order_id <> :seq"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":seq": &types.AttributeValueMemberS{Value: orderSeqKey}},
		})
		if err != nil {
			return nil, fmt.Errorf("%w: scan orders: %v", ErrDatabaseError, err)
		}
		for _, item := range out.Items {
			o, err := unmarshalOrderRecord(item)
			if err != nil {
				return nil, err
			}
			orders = append(orders, *o)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return orders, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

func marshalOrderRecord(order *models.Order) (map[string]types.AttributeValue, error) {
	doc, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("%w: encode order %s: %v", ErrDatabaseError, order.ID, err)
	}
	rec := dynamoOrderRecord{
		OrderID:       order.ID,
		RestaurantID:  order.RestaurantID,
		TableID:       order.TableID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		OrderNumber:   order.OrderNumber,
		Version:       order.Version,
		CreatedAt:     order.CreatedAt,
		Document:      string(doc),
	}
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal order record: %v", ErrDatabaseError, err)
	}
	return item, nil
}

func unmarshalOrderRecord(item map[string]types.AttributeValue) (*models.Order, error) {
	var rec dynamoOrderRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("%w: unmarshal order record: %v", ErrDatabaseError, err)
	}
	var o models.Order
	if err := json.Unmarshal([]byte(rec.Document), &o); err != nil {
		return nil, fmt.Errorf("%w: decode order %s: %v", ErrDatabaseError, rec.OrderID, err)
	}
	o.OrderNumber = rec.OrderNumber
	o.Version = rec.Version
	return &o, nil
}

func orderKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: id},
	}
}

// isConditionFailed detects a failed ConditionExpression whether the SDK
// returned the typed exception or a generic API error.
func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	if errors.As(err, &ccf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "ConditionalCheckFailedException"
}

func awsString(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
