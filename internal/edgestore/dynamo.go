package edgestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	defaultUnprocessedRetries = 5
	defaultRetryBaseDelay     = 50 * time.Millisecond
)

// DynamoStore implements Store on DynamoDB.
type DynamoStore struct {
	client             *dynamodb.Client
	logger             *slog.Logger
	unprocessedRetries int
	retryBaseDelay     time.Duration
}

var _ Store = (*DynamoStore)(nil)

// NewDynamoStore creates a store on the given client.
func NewDynamoStore(client *dynamodb.Client, logger *slog.Logger) *DynamoStore {
	if client == nil {
		panic("edgestore: client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DynamoStore{
		client:             client,
		logger:             logger,
		unprocessedRetries: defaultUnprocessedRetries,
		retryBaseDelay:     defaultRetryBaseDelay,
	}
}

// BatchWrite applies the batch, re-driving any unprocessed subset the store
// hands back. Exhausting the retries surfaces as a TransientError so the
// caller's chunk retry takes over.
func (s *DynamoStore) BatchWrite(ctx context.Context, table string, batch Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	if batch.Len() > MaxBatchSize {
		return fmt.Errorf("edgestore: batch of %d exceeds limit %d", batch.Len(), MaxBatchSize)
	}

	requests := make([]types.WriteRequest, 0, batch.Len())
	for _, item := range batch.Puts {
		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return fmt.Errorf("edgestore: marshal item: %w", err)
		}
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: av},
		})
	}
	for _, key := range batch.Deletes {
		av, err := attributevalue.MarshalMap(key)
		if err != nil {
			return fmt.Errorf("edgestore: marshal delete key: %w", err)
		}
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: av},
		})
	}

	pending := map[string][]types.WriteRequest{table: requests}
	for attempt := 0; len(pending[table]) > 0; attempt++ {
		if attempt > s.unprocessedRetries {
			return &TransientError{Err: fmt.Errorf("%d items still unprocessed after %d attempts",
				len(pending[table]), attempt)}
		}
		if attempt > 0 {
			if err := sleep(ctx, backoffDelay(s.retryBaseDelay, attempt)); err != nil {
				return err
			}
			s.logger.WarnContext(ctx, "retrying unprocessed batch items",
				slog.String("table", table),
				slog.Int("remaining", len(pending[table])),
				slog.Int("attempt", attempt),
			)
		}

		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: pending,
		})
		if err != nil {
			return classify(err)
		}
		pending = out.UnprocessedItems
	}
	return nil
}

// Get fetches one item by key with a consistent read.
func (s *DynamoStore) Get(ctx context.Context, table string, key Item) (Item, error) {
	av, err := attributevalue.MarshalMap(key)
	if err != nil {
		return nil, fmt.Errorf("edgestore: marshal key: %w", err)
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            av,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify(err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}

	var item Item
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("edgestore: unmarshal item: %w", err)
	}
	return item, nil
}

// Scan reads one page, reporting consumed read capacity so callers can
// enforce a budget.
func (s *DynamoStore) Scan(ctx context.Context, req ScanRequest) (Page, error) {
	input := &dynamodb.ScanInput{
		TableName:              aws.String(req.Table),
		ReturnConsumedCapacity: types.ReturnConsumedCapacityTotal,
	}
	if req.Limit > 0 {
		input.Limit = aws.Int32(req.Limit)
	}
	if req.StartKey != nil {
		av, err := attributevalue.MarshalMap(req.StartKey)
		if err != nil {
			return Page{}, fmt.Errorf("edgestore: marshal start key: %w", err)
		}
		input.ExclusiveStartKey = av
	}

	out, err := s.client.Scan(ctx, input)
	if err != nil {
		return Page{}, classify(err)
	}

	page := Page{Items: make([]Item, 0, len(out.Items))}
	for _, raw := range out.Items {
		var item Item
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return Page{}, fmt.Errorf("edgestore: unmarshal item: %w", err)
		}
		page.Items = append(page.Items, item)
	}
	if len(out.LastEvaluatedKey) > 0 {
		var last Item
		if err := attributevalue.UnmarshalMap(out.LastEvaluatedKey, &last); err != nil {
			return Page{}, fmt.Errorf("edgestore: unmarshal last key: %w", err)
		}
		page.LastKey = last
	}
	if out.ConsumedCapacity != nil && out.ConsumedCapacity.CapacityUnits != nil {
		page.ConsumedCapacity = *out.ConsumedCapacity.CapacityUnits
	}
	return page, nil
}

// classify maps store errors to the retry taxonomy: throttling and server
// faults are transient, everything else is fatal as-is.
func classify(err error) error {
	var throttled *types.ProvisionedThroughputExceededException
	var requestLimit *types.RequestLimitExceeded
	var internal *types.InternalServerError
	if errors.As(err, &throttled) || errors.As(err, &requestLimit) || errors.As(err, &internal) {
		return &TransientError{Err: err}
	}
	return err
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
