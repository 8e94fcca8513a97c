package database

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	appConfig "github.com/imyashkale/deployer/internal/config"
	"github.com/imyashkale/deployer/internal/logger"
)

// Config holds the DynamoDB configuration
type Config struct {
	TableName string
	Region    string
}

// dynamoAPI is the subset of the DynamoDB client used for deployment history
type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// Client wraps the DynamoDB client
type Client struct {
	DynamoDB  dynamoAPI
	TableName string
}

// NewConfig creates a new database configuration from the application config
func NewConfig(appCfg *appConfig.Config) *Config {
	return &Config{
		TableName: appCfg.DeploymentsTableName,
		Region:    appCfg.AWSRegion,
	}
}

// NewClient creates a new DynamoDB client. A missing table is logged and
// left to fail on first write.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	client := &Client{
		DynamoDB:  dynamodb.NewFromConfig(awsCfg),
		TableName: cfg.TableName,
	}

	if err := client.ensureTableExists(ctx); err != nil {
		logger.WithField("error", err.Error()).Warn("Could not verify deployments table")
	}

	return client, nil
}

// ensureTableExists checks if the DynamoDB table exists
func (c *Client) ensureTableExists(ctx context.Context) error {
	_, err := c.DynamoDB.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(c.TableName),
	})
	if err != nil {
		return fmt.Errorf("table %s does not exist or cannot be accessed: %w", c.TableName, err)
	}

	logger.WithField("table", c.TableName).Debug("DynamoDB table verified")
	return nil
}
