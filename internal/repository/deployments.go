package repository

import (
	"context"

	"github.com/imyashkale/deployer/internal/database"
	"github.com/imyashkale/deployer/internal/models"
)

// DeploymentRepository records finished runs and lists them back
type DeploymentRepository interface {
	Record(ctx context.Context, deployment *models.Deployment) error
	List(ctx context.Context, service string, limit int) ([]*models.Deployment, error)
}

// dynamoDeploymentRepository implements DeploymentRepository using DynamoDB
type dynamoDeploymentRepository struct {
	db *database.DeploymentOperations
}

// NewDeploymentRepository creates a new DynamoDB-backed deployment repository
func NewDeploymentRepository(db *database.DeploymentOperations) DeploymentRepository {
	return &dynamoDeploymentRepository{
		db: db,
	}
}

// Record stores a finished run
func (r *dynamoDeploymentRepository) Record(ctx context.Context, deployment *models.Deployment) error {
	return r.db.PutDeployment(ctx, deployment)
}

// List returns the latest runs of a service, newest first
func (r *dynamoDeploymentRepository) List(ctx context.Context, service string, limit int) ([]*models.Deployment, error) {
	return r.db.ListDeployments(ctx, service, limit)
}
