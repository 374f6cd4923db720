package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoDB key prefixes for the run ledger.
const (
	pkPrefix = "PROJECT#"
	skPrefix = "RUN#"

	// DefaultListLimit caps ListRuns when no limit is given.
	DefaultListLimit = 50
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoRunStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoRunStore implements RunStore on a DynamoDB table with PK/SK string
// keys and a TTL on expiresAt.
type DynamoRunStore struct {
	client    DynamoAPI
	tableName string
	now       func() time.Time
}

// Compile-time interface check.
var _ RunStore = (*DynamoRunStore)(nil)

// NewDynamoRunStore creates a DynamoRunStore for the given table.
func NewDynamoRunStore(client DynamoAPI, tableName string) *DynamoRunStore {
	return &DynamoRunStore{client: client, tableName: tableName, now: time.Now}
}

// TableName returns the ledger table name.
func (s *DynamoRunStore) TableName() string { return s.tableName }

func projectPK(projectID string) string { return pkPrefix + projectID }

func runSK(runID string) string { return skPrefix + runID }

func (s *DynamoRunStore) expiresAt() int64 {
	return s.now().Add(RunTTL).Unix()
}

func keyOf(projectID, runID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: projectPK(projectID)},
		"SK": &types.AttributeValueMemberS{Value: runSK(runID)},
	}
}

// PutRun writes the run record, replacing any previous version.
func (s *DynamoRunStore) PutRun(ctx context.Context, run *RunRecord) error {
	pk, sk := projectPK(run.ProjectID), runSK(run.RunID)

	start := time.Now()
	item, err := attributevalue.MarshalMap(run)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	item["PK"] = &types.AttributeValueMemberS{Value: pk}
	item["SK"] = &types.AttributeValueMemberS{Value: sk}
	item["expiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(s.expiresAt(), 10)}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &s.tableName,
		Item:      item,
	})
	duration := time.Since(start)
	if err != nil {
		return fmt.Errorf("PutItem run PK=%s SK=%s: %w", pk, sk, err)
	}
	log.Debug().Str("pk", pk).Str("sk", sk).Str("status", run.Status).Str("stage", run.Stage).Dur("duration", duration).Msg("PutRun: run record persisted")
	return nil
}

// GetRun reads one run. Returns nil, nil if not found.
func (s *DynamoRunStore) GetRun(ctx context.Context, projectID, runID string) (*RunRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &s.tableName,
		Key:       keyOf(projectID, runID),
	})
	if err != nil {
		return nil, fmt.Errorf("GetItem run PK=%s SK=%s: %w", projectPK(projectID), runSK(runID), err)
	}
	if result.Item == nil {
		return nil, nil
	}
	var run RunRecord
	if err := attributevalue.UnmarshalMap(result.Item, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run record: %w", err)
	}
	run.ProjectID = projectID
	run.RunID = runID
	return &run, nil
}

// ListRuns returns up to limit runs for the project, newest first.
func (s *DynamoRunStore) ListRuns(ctx context.Context, projectID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	pk := projectPK(projectID)
	input := &dynamodb.QueryInput{
		TableName:              &s.tableName,
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
			":sk": &types.AttributeValueMemberS{Value: skPrefix},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	}

	runs := make([]RunRecord, 0, limit)
	for len(runs) < limit {
		result, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Query runs PK=%s: %w", pk, err)
		}
		for _, item := range result.Items {
			var run RunRecord
			if err := attributevalue.UnmarshalMap(item, &run); err != nil {
				log.Warn().Err(err).Str("pk", pk).Msg("Failed to unmarshal run record, skipping")
				continue
			}
			run.ProjectID = projectID
			if skAttr, ok := item["SK"].(*types.AttributeValueMemberS); ok {
				run.RunID = strings.TrimPrefix(skAttr.Value, skPrefix)
			}
			runs = append(runs, run)
			if len(runs) == limit {
				break
			}
		}
		if result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}
	log.Debug().Str("pk", pk).Int("runCount", len(runs)).Msg("ListRuns: query completed")
	return runs, nil
}
