package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DDBClient is the subset of the DynamoDB API used by DynamoDBStore.
type DDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoDBStore keeps checkpoints in a DynamoDB table.
//
// Advances are conditional updates, so the LSN of a collection never moves
// backwards even with several writers.
//
// Table schema:
//   - Partition key: collection (string)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name vecbuf-checkpoints \
//	  --attribute-definitions AttributeName=collection,AttributeType=S \
//	  --key-schema AttributeName=collection,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
type DynamoDBStore struct {
	client DDBClient
	table  string
	now    func() time.Time
}

// NewDynamoDBStore creates a checkpoint store backed by table.
func NewDynamoDBStore(client DDBClient, table string) *DynamoDBStore {
	return &DynamoDBStore{client: client, table: table, now: time.Now}
}

// Load returns the checkpoint of collection.
func (s *DynamoDBStore) Load(ctx context.Context, collection string) (Checkpoint, error) {
	resp, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"collection": &types.AttributeValueMemberS{Value: collection},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Checkpoint{}, fmt.Errorf("failed to read checkpoint from DynamoDB: %w", err)
	}
	if len(resp.Item) == 0 {
		return Checkpoint{}, ErrNotFound
	}
	return decodeItem(resp.Item)
}

// Advance stores cp if its LSN is not below the stored one.
func (s *DynamoDBStore) Advance(ctx context.Context, cp Checkpoint) error {
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.now().UTC()
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"collection": &types.AttributeValueMemberS{Value: cp.Collection},
		},
		UpdateExpression:    aws.String("SET #lsn = :lsn, #seg = :seg, #ts = :ts ADD #segs :one"),
		ConditionExpression: aws.String("attribute_not_exists(#lsn) OR #lsn <= :lsn"),
		// SEGMENT and SEGMENTS are reserved words.
		ExpressionAttributeNames: map[string]string{
			"#lsn":  "lsn",
			"#seg":  "segment",
			"#segs": "segments",
			"#ts":   "updated_at",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lsn": &types.AttributeValueMemberN{Value: strconv.FormatUint(cp.LSN, 10)},
			":seg": &types.AttributeValueMemberS{Value: cp.Segment},
			":ts":  &types.AttributeValueMemberS{Value: cp.UpdatedAt.Format(time.RFC3339Nano)},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: collection %q, got %d", ErrStale, cp.Collection, cp.LSN)
		}
		return fmt.Errorf("failed to advance checkpoint in DynamoDB: %w", err)
	}
	return nil
}

// List returns every stored checkpoint ordered by collection.
func (s *DynamoDBStore) List(ctx context.Context) ([]Checkpoint, error) {
	var (
		out   []Checkpoint
		start map[string]types.AttributeValue
	)
	for {
		resp, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(s.table),
			ExclusiveStartKey: start,
			ConsistentRead:    aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan checkpoints in DynamoDB: %w", err)
		}
		for _, item := range resp.Items {
			cp, err := decodeItem(item)
			if err != nil {
				return nil, err
			}
			out = append(out, cp)
		}
		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		start = resp.LastEvaluatedKey
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Collection < out[j].Collection })
	return out, nil
}

func decodeItem(item map[string]types.AttributeValue) (Checkpoint, error) {
	var cp Checkpoint

	name, ok := item["collection"].(*types.AttributeValueMemberS)
	if !ok {
		return cp, errors.New("invalid collection attribute in DynamoDB")
	}
	cp.Collection = name.Value

	lsn, ok := item["lsn"].(*types.AttributeValueMemberN)
	if !ok {
		return cp, errors.New("invalid lsn attribute in DynamoDB")
	}
	v, err := strconv.ParseUint(lsn.Value, 10, 64)
	if err != nil {
		return cp, fmt.Errorf("failed to parse lsn: %w", err)
	}
	cp.LSN = v

	if seg, ok := item["segment"].(*types.AttributeValueMemberS); ok {
		cp.Segment = seg.Value
	}
	if n, ok := item["segments"].(*types.AttributeValueMemberN); ok {
		cp.Segments, _ = strconv.ParseUint(n.Value, 10, 64)
	}
	if ts, ok := item["updated_at"].(*types.AttributeValueMemberS); ok {
		cp.UpdatedAt, _ = time.Parse(time.RFC3339Nano, ts.Value)
	}
	return cp, nil
}
