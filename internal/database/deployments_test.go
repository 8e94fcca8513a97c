package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imyashkale/deployer/internal/models"
)

// memoryDynamo keeps put items and answers queries from them
type memoryDynamo struct {
	items    []map[string]types.AttributeValue
	putErr   error
	lastPut  *dynamodb.PutItemInput
	lastQry  *dynamodb.QueryInput
	describe error
}

func (m *memoryDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.lastPut = in
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.items = append(m.items, in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (m *memoryDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	m.lastQry = in
	want := in.ExpressionAttributeValues[":service"].(*types.AttributeValueMemberS).Value
	var out []map[string]types.AttributeValue
	for i := len(m.items) - 1; i >= 0; i-- {
		if m.items[i]["Service"].(*types.AttributeValueMemberS).Value == want {
			out = append(out, m.items[i])
		}
	}
	return &dynamodb.QueryOutput{Items: out}, nil
}

func (m *memoryDynamo) DescribeTable(context.Context, *dynamodb.DescribeTableInput, ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{}, m.describe
}

func record(service, id string) *models.Deployment {
	created := time.Unix(1700000000, 0)
	return &models.Deployment{
		Service:      service,
		DeploymentId: id,
		Environment:  "staging",
		Type:         "service",
		Revision:     "abc1234",
		Status:       "succeeded",
		ImageRef:     "registry:5000/api:abc1234-1700000000",
		Stages: map[string]*models.BuildStageStatus{
			"build": {Status: "completed"},
		},
		BuildLogs:  []models.BuildLogEntry{{Timestamp: created, Stage: "build", Level: "info", Message: "ok"}},
		DurationMs: 4200,
		CreatedAt:  created,
		UpdatedAt:  created.Add(5 * time.Second),
	}
}

func TestPutAndListDeployments(t *testing.T) {
	fake := &memoryDynamo{}
	ops := NewDeploymentOperations(&Client{DynamoDB: fake, TableName: "deployments"}, "deployments")
	ctx := context.Background()

	require.NoError(t, ops.PutDeployment(ctx, record("api", "01")))
	require.NoError(t, ops.PutDeployment(ctx, record("web", "02")))
	require.NoError(t, ops.PutDeployment(ctx, record("api", "03")))

	assert.Equal(t, "deployments", aws.ToString(fake.lastPut.TableName))
	assert.Contains(t, fake.lastPut.Item, "Logs")
	assert.NotContains(t, fake.lastPut.Item, "Error")

	got, err := ops.ListDeployments(ctx, "api", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "03", got[0].DeploymentId)
	assert.Equal(t, "01", got[1].DeploymentId)
	assert.Equal(t, record("api", "01").CreatedAt, got[1].CreatedAt)
	assert.Equal(t, "completed", got[0].Stages["build"].Status)
	assert.Equal(t, int64(4200), got[0].DurationMs)

	assert.False(t, aws.ToBool(fake.lastQry.ScanIndexForward))
	assert.Equal(t, int32(DefaultListLimit), aws.ToInt32(fake.lastQry.Limit))
}

func TestPutDeploymentError(t *testing.T) {
	fake := &memoryDynamo{putErr: errors.New("throttled")}
	ops := NewDeploymentOperations(&Client{DynamoDB: fake}, "deployments")

	err := ops.PutDeployment(context.Background(), record("api", "01"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestEnsureTableExists(t *testing.T) {
	c := &Client{DynamoDB: &memoryDynamo{describe: errors.New("ResourceNotFoundException")}, TableName: "missing"}
	err := c.ensureTableExists(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")

	c.DynamoDB = &memoryDynamo{}
	assert.NoError(t, c.ensureTableExists(context.Background()))
}
