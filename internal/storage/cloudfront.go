package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
)

type cloudFrontAPI interface {
	CreateInvalidation(ctx context.Context, params *cloudfront.CreateInvalidationInput, optFns ...func(*cloudfront.Options)) (*cloudfront.CreateInvalidationOutput, error)
}

// CloudFront invalidates cached paths of a distribution
type CloudFront struct {
	client cloudFrontAPI
	now    func() time.Time
}

// NewCloudFront creates a CloudFront client
func NewCloudFront(awsCfg aws.Config) *CloudFront {
	return &CloudFront{
		client: cloudfront.NewFromConfig(awsCfg),
		now:    time.Now,
	}
}

// CreateInvalidation starts an invalidation and returns its id
func (c *CloudFront) CreateInvalidation(ctx context.Context, distributionID string, paths []string) (string, error) {
	if len(paths) == 0 {
		paths = []string{"/*"}
	}

	out, err := c.client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(distributionID),
		InvalidationBatch: &types.InvalidationBatch{
			CallerReference: aws.String(fmt.Sprintf("deployer-%d", c.now().UnixNano())),
			Paths: &types.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to invalidate distribution %s: %w", distributionID, err)
	}
	if out.Invalidation == nil {
		return "", fmt.Errorf("distribution %s returned no invalidation", distributionID)
	}
	return aws.ToString(out.Invalidation.Id), nil
}
