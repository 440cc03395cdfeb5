package edgestore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// HealthChecker implements the observability.Checker interface for the
// DynamoDB edge store. It describes one representative table; reachability
// plus an existing table is enough for readiness.
type HealthChecker struct {
	client *dynamodb.Client
	table  string
}

// NewHealthChecker creates a health checker probing the given table.
func NewHealthChecker(client *dynamodb.Client, table string) *HealthChecker {
	return &HealthChecker{client: client, table: table}
}

// Name returns the component name.
func (h *HealthChecker) Name() string {
	return "edgestore"
}

// Check verifies the table is reachable.
func (h *HealthChecker) Check(ctx context.Context) error {
	if h.client == nil {
		return fmt.Errorf("edge store client is nil")
	}
	_, err := h.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: &h.table,
	})
	return err
}
