package state

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/aws-samples/eks-node-rollout/internal/models"
)

// fakeDynamo captures requests and serves canned items.
type fakeDynamo struct {
	getItem map[string]ddbtypes.AttributeValue
	getErr  error
	putErr  error
	lastGet *dynamodb.GetItemInput
	lastPut *dynamodb.PutItemInput

	scanPages []dynamodb.ScanOutput
	scanCall  int
}

func (f *fakeDynamo) GetItem(_ context.Context, params *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGet = params
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &dynamodb.GetItemOutput{Item: f.getItem}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, params *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPut = params
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	page := f.scanPages[f.scanCall]
	f.scanCall++
	return &page, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{}, nil
}

func marshalRecord(t *testing.T, rec models.RolloutRecord) map[string]ddbtypes.AttributeValue {
	t.Helper()
	av, err := attributevalue.MarshalMap(fromRecord(rec))
	if err != nil {
		t.Fatal(err)
	}
	return av
}

func TestDynamoGetDecodesRecord(t *testing.T) {
	rec := newRecord("dev-eks", "workers")
	rec.Revision = 4
	client := &fakeDynamo{getItem: marshalRecord(t, rec)}
	r := NewDynamoRecorder(client, "rollout-state")

	got, err := r.Get(context.Background(), "dev-eks/workers")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got == nil || got.Revision != 4 || got.Status != models.RolloutInProgress {
		t.Errorf("Get() = %+v", got)
	}
	if !got.LastAttempt.Equal(rec.LastAttempt) {
		t.Errorf("LastAttempt = %s; want %s", got.LastAttempt, rec.LastAttempt)
	}

	if client.lastGet == nil || !aws.ToBool(client.lastGet.ConsistentRead) {
		t.Error("Get must issue a strongly consistent read")
	}
	key, ok := client.lastGet.Key["node_group"].(*ddbtypes.AttributeValueMemberS)
	if !ok || key.Value != "dev-eks/workers" {
		t.Errorf("key = %+v; want node_group = dev-eks/workers", client.lastGet.Key)
	}
}

func TestDynamoGetAbsentReturnsNil(t *testing.T) {
	r := NewDynamoRecorder(&fakeDynamo{}, "rollout-state")
	got, err := r.Get(context.Background(), "dev-eks/workers")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != nil {
		t.Errorf("Get() = %+v; want nil for empty item", got)
	}
}

func TestDynamoPutCreateGuardsExistence(t *testing.T) {
	client := &fakeDynamo{}
	r := NewDynamoRecorder(client, "rollout-state")

	stored, err := r.Put(context.Background(), newRecord("dev-eks", "workers"), 0)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if stored.Revision != 1 {
		t.Errorf("Revision = %d; want 1", stored.Revision)
	}
	if got := aws.ToString(client.lastPut.ConditionExpression); got != "attribute_not_exists(node_group)" {
		t.Errorf("ConditionExpression = %q", got)
	}
}

func TestDynamoPutUpdateGuardsRevision(t *testing.T) {
	client := &fakeDynamo{}
	r := NewDynamoRecorder(client, "rollout-state")

	stored, err := r.Put(context.Background(), newRecord("dev-eks", "workers"), 6)
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if stored.Revision != 7 {
		t.Errorf("Revision = %d; want 7", stored.Revision)
	}
	if got := aws.ToString(client.lastPut.ConditionExpression); got != "revision = :rev" {
		t.Errorf("ConditionExpression = %q", got)
	}
	rev, ok := client.lastPut.ExpressionAttributeValues[":rev"].(*ddbtypes.AttributeValueMemberN)
	if !ok || rev.Value != "6" {
		t.Errorf(":rev = %+v; want 6", client.lastPut.ExpressionAttributeValues[":rev"])
	}
}

func TestDynamoPutConditionFailureIsConcurrentModification(t *testing.T) {
	client := &fakeDynamo{putErr: &ddbtypes.ConditionalCheckFailedException{Message: aws.String("nope")}}
	r := NewDynamoRecorder(client, "rollout-state")

	_, err := r.Put(context.Background(), newRecord("dev-eks", "workers"), 2)
	if !errors.Is(err, models.ErrConcurrentModification) {
		t.Errorf("Put() error = %v; want ErrConcurrentModification", err)
	}
}

func TestDynamoPutOtherErrorsPassThrough(t *testing.T) {
	client := &fakeDynamo{putErr: errors.New("throttled")}
	r := NewDynamoRecorder(client, "rollout-state")

	_, err := r.Put(context.Background(), newRecord("dev-eks", "workers"), 2)
	if err == nil || errors.Is(err, models.ErrConcurrentModification) {
		t.Errorf("Put() error = %v; want plain failure", err)
	}
}

func TestDynamoListWalksScanPages(t *testing.T) {
	page1 := dynamodb.ScanOutput{
		Items:            []map[string]ddbtypes.AttributeValue{marshalRecord(t, newRecord("dev-eks", "a"))},
		LastEvaluatedKey: map[string]ddbtypes.AttributeValue{"node_group": &ddbtypes.AttributeValueMemberS{Value: "dev-eks/a"}},
	}
	page2 := dynamodb.ScanOutput{
		Items: []map[string]ddbtypes.AttributeValue{marshalRecord(t, newRecord("dev-eks", "b"))},
	}
	client := &fakeDynamo{scanPages: []dynamodb.ScanOutput{page1, page2}}
	r := NewDynamoRecorder(client, "rollout-state")

	records, err := r.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d; want 2 across pages", len(records))
	}
	if client.scanCall != 2 {
		t.Errorf("scan calls = %d; want 2", client.scanCall)
	}
}
