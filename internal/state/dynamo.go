package state

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/aws-samples/eks-node-rollout/internal/awsapi"
	"github.com/aws-samples/eks-node-rollout/internal/models"
)

// recordItem is the DynamoDB shape of a RolloutRecord. Timestamps are stored
// as RFC 3339 strings so the table stays inspectable in the console.
type recordItem struct {
	Key           string `dynamodbav:"node_group"`
	ClusterName   string `dynamodbav:"cluster_name"`
	NodegroupName string `dynamodbav:"nodegroup_name"`
	Status        string `dynamodbav:"status"`
	LastApplied   string `dynamodbav:"last_applied_ami,omitempty"`
	AttemptedAMI  string `dynamodbav:"attempted_ami,omitempty"`
	LastAttempt   string `dynamodbav:"last_attempt,omitempty"`
	ErrorKind     string `dynamodbav:"error_kind,omitempty"`
	ErrorDetail   string `dynamodbav:"error_detail,omitempty"`
	Revision      int64  `dynamodbav:"revision"`
}

// DynamoRecorder implements Recorder on a single DynamoDB table keyed by
// "node_group". Reads are strongly consistent; writes are guarded by a
// condition expression on the revision attribute, which is what prevents two
// concurrent runs from rolling out the same node group.
type DynamoRecorder struct {
	client awsapi.DynamoDBClient
	table  string
}

// NewDynamoRecorder returns a Recorder backed by the named table.
func NewDynamoRecorder(client awsapi.DynamoDBClient, table string) *DynamoRecorder {
	return &DynamoRecorder{client: client, table: table}
}

// Get implements Recorder.
func (d *DynamoRecorder) Get(ctx context.Context, key string) (*models.RolloutRecord, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.table),
		Key: map[string]ddbtypes.AttributeValue{
			"node_group": &ddbtypes.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get rollout record %q: %w", key, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}

	var item recordItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("decode rollout record %q: %w", key, err)
	}
	rec, err := item.toRecord()
	if err != nil {
		return nil, fmt.Errorf("decode rollout record %q: %w", key, err)
	}
	return rec, nil
}

// Put implements Recorder.
func (d *DynamoRecorder) Put(ctx context.Context, rec models.RolloutRecord, expectedRevision int64) (*models.RolloutRecord, error) {
	rec.Revision = expectedRevision + 1

	av, err := attributevalue.MarshalMap(fromRecord(rec))
	if err != nil {
		return nil, fmt.Errorf("encode rollout record %q: %w", rec.Key(), err)
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      av,
	}
	if expectedRevision == 0 {
		input.ConditionExpression = aws.String("attribute_not_exists(node_group)")
	} else {
		input.ConditionExpression = aws.String("revision = :rev")
		input.ExpressionAttributeValues = map[string]ddbtypes.AttributeValue{
			":rev": &ddbtypes.AttributeValueMemberN{Value: strconv.FormatInt(expectedRevision, 10)},
		}
	}

	if _, err := d.client.PutItem(ctx, input); err != nil {
		var ccf *ddbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, fmt.Errorf("record %q changed under us: %w", rec.Key(), models.ErrConcurrentModification)
		}
		return nil, fmt.Errorf("put rollout record %q: %w", rec.Key(), err)
	}
	return &rec, nil
}

// List implements Recorder.
func (d *DynamoRecorder) List(ctx context.Context) ([]models.RolloutRecord, error) {
	paginator := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName:      aws.String(d.table),
		ConsistentRead: aws.Bool(true),
	})

	var records []models.RolloutRecord
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan rollout records: %w", err)
		}
		for _, raw := range page.Items {
			var item recordItem
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("decode rollout record: %w", err)
			}
			rec, err := item.toRecord()
			if err != nil {
				return nil, err
			}
			records = append(records, *rec)
		}
	}
	return records, nil
}

func fromRecord(rec models.RolloutRecord) recordItem {
	item := recordItem{
		Key:           rec.Key(),
		ClusterName:   rec.ClusterName,
		NodegroupName: rec.NodegroupName,
		Status:        string(rec.Status),
		LastApplied:   rec.LastAppliedAMI,
		AttemptedAMI:  rec.AttemptedAMI,
		ErrorKind:     string(rec.ErrorKind),
		ErrorDetail:   rec.ErrorDetail,
		Revision:      rec.Revision,
	}
	if !rec.LastAttempt.IsZero() {
		item.LastAttempt = rec.LastAttempt.UTC().Format(time.RFC3339Nano)
	}
	return item
}

func (item recordItem) toRecord() (*models.RolloutRecord, error) {
	rec := &models.RolloutRecord{
		ClusterName:    item.ClusterName,
		NodegroupName:  item.NodegroupName,
		Status:         models.RolloutStatus(item.Status),
		LastAppliedAMI: item.LastApplied,
		AttemptedAMI:   item.AttemptedAMI,
		ErrorKind:      models.ErrorKind(item.ErrorKind),
		ErrorDetail:    item.ErrorDetail,
		Revision:       item.Revision,
	}
	if item.LastAttempt != "" {
		t, err := time.Parse(time.RFC3339Nano, item.LastAttempt)
		if err != nil {
			return nil, fmt.Errorf("parse last_attempt %q: %w", item.LastAttempt, err)
		}
		rec.LastAttempt = t
	}
	return rec, nil
}
