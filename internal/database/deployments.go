package database

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/imyashkale/deployer/internal/logger"
	"github.com/imyashkale/deployer/internal/models"
)

// DefaultListLimit caps ListDeployments when no limit is given
const DefaultListLimit = 50

// deploymentItem is the stored shape of a history record. Times are unix
// seconds so that the sort order matches the key order.
type deploymentItem struct {
	Service      string                              `dynamodbav:"Service"`
	DeploymentId string                              `dynamodbav:"DeploymentId"`
	Product      string                              `dynamodbav:"Product,omitempty"`
	Environment  string                              `dynamodbav:"Environment"`
	Type         string                              `dynamodbav:"Type"`
	Revision     string                              `dynamodbav:"Revision"`
	BuildID      string                              `dynamodbav:"BuildID"`
	Status       string                              `dynamodbav:"Status"`
	Error        string                              `dynamodbav:"Error,omitempty"`
	DryRun       bool                                `dynamodbav:"DryRun"`
	ImageRef     string                              `dynamodbav:"ImageRef,omitempty"`
	Stages       map[string]*models.BuildStageStatus `dynamodbav:"Stages,omitempty"`
	BuildLogs    []models.BuildLogEntry              `dynamodbav:"Logs,omitempty"`
	DurationMs   int64                               `dynamodbav:"DurationMs"`
	CreatedAt    int64                               `dynamodbav:"CreatedAt"`
	UpdatedAt    int64                               `dynamodbav:"UpdatedAt"`
}

// DeploymentOperations handles all DynamoDB operations for deployment history
type DeploymentOperations struct {
	client    *Client
	tableName string
}

// NewDeploymentOperations creates a new DeploymentOperations instance
func NewDeploymentOperations(client *Client, tableName string) *DeploymentOperations {
	return &DeploymentOperations{
		client:    client,
		tableName: tableName,
	}
}

// PutDeployment writes one history record, replacing any record with the
// same key
func (do *DeploymentOperations) PutDeployment(ctx context.Context, deployment *models.Deployment) error {
	fields := map[string]interface{}{
		"service":       deployment.Service,
		"deployment_id": deployment.DeploymentId,
		"status":        deployment.Status,
	}
	logger.WithFields(fields).Debug("Writing deployment record to DynamoDB")

	av, err := attributevalue.MarshalMap(toItem(deployment))
	if err != nil {
		return fmt.Errorf("failed to marshal deployment: %w", err)
	}

	_, err = do.client.DynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(do.tableName),
		Item:      av,
	})
	if err != nil {
		logger.WithFields(fields).WithField("error", err.Error()).Error("Failed to write deployment record")
		return fmt.Errorf("failed to put deployment: %w", err)
	}

	logger.WithFields(fields).Info("Deployment record written to DynamoDB")
	return nil
}

// ListDeployments returns the most recent records of a service, newest
// first. Deployment ids are UUIDv7 so the sort key orders by time.
func (do *DeploymentOperations) ListDeployments(ctx context.Context, service string, limit int) ([]*models.Deployment, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	result, err := do.client.DynamoDB.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(do.tableName),
		KeyConditionExpression: aws.String("#service = :service"),
		ExpressionAttributeNames: map[string]string{
			"#service": "Service",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":service": &types.AttributeValueMemberS{Value: service},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(int32(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query deployments: %w", err)
	}

	deployments := make([]*models.Deployment, 0, len(result.Items))
	for _, item := range result.Items {
		deployment, err := unmarshalDeployment(item)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal deployment: %w", err)
		}
		deployments = append(deployments, deployment)
	}
	return deployments, nil
}

func toItem(d *models.Deployment) deploymentItem {
	return deploymentItem{
		Service:      d.Service,
		DeploymentId: d.DeploymentId,
		Product:      d.Product,
		Environment:  d.Environment,
		Type:         d.Type,
		Revision:     d.Revision,
		BuildID:      d.BuildID,
		Status:       d.Status,
		Error:        d.Error,
		DryRun:       d.DryRun,
		ImageRef:     d.ImageRef,
		Stages:       d.Stages,
		BuildLogs:    d.BuildLogs,
		DurationMs:   d.DurationMs,
		CreatedAt:    d.CreatedAt.Unix(),
		UpdatedAt:    d.UpdatedAt.Unix(),
	}
}

// unmarshalDeployment converts a DynamoDB item to the Deployment domain model
func unmarshalDeployment(item map[string]types.AttributeValue) (*models.Deployment, error) {
	var temp deploymentItem
	if err := attributevalue.UnmarshalMap(item, &temp); err != nil {
		return nil, err
	}

	return &models.Deployment{
		Service:      temp.Service,
		DeploymentId: temp.DeploymentId,
		Product:      temp.Product,
		Environment:  temp.Environment,
		Type:         temp.Type,
		Revision:     temp.Revision,
		BuildID:      temp.BuildID,
		Status:       temp.Status,
		Error:        temp.Error,
		DryRun:       temp.DryRun,
		ImageRef:     temp.ImageRef,
		Stages:       temp.Stages,
		BuildLogs:    temp.BuildLogs,
		DurationMs:   temp.DurationMs,
		CreatedAt:    time.Unix(temp.CreatedAt, 0),
		UpdatedAt:    time.Unix(temp.UpdatedAt, 0),
	}, nil
}
