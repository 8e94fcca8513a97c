// Package publish uploads build artifacts to object storage.
package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/imyashkale/deployer/internal/deployerr"
	"github.com/imyashkale/deployer/internal/logger"
	"github.com/imyashkale/deployer/internal/models"
	"github.com/imyashkale/deployer/internal/storage"
)

// ObjectStore is the storage the publisher writes to
type ObjectStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	PutObject(ctx context.Context, obj storage.Object) error
}

// Request describes one artifact upload
type Request struct {
	Service     models.ServiceDescriptor
	Environment models.Environment
	Destination models.StorageDestination
	Artifact    *models.BuildArtifact
}

// Publisher uploads artifacts under a stable and a versioned key
type Publisher struct {
	store ObjectStore
}

// NewPublisher creates a publisher
func NewPublisher(store ObjectStore) *Publisher {
	return &Publisher{store: store}
}

// Keys returns the latest and versioned object keys of an artifact
func Keys(dest models.StorageDestination, svc models.ServiceDescriptor, artifact *models.BuildArtifact) []string {
	ext := filepath.Ext(artifact.Location)
	base := path.Join(dest.Prefix, svc.Product, svc.Name)
	return []string{
		path.Join(base, "latest"+ext),
		path.Join(base, artifact.Revision+ext),
	}
}

// Publish uploads the artifact and returns the written keys
func (p *Publisher) Publish(ctx context.Context, req Request) ([]string, error) {
	if req.Artifact == nil {
		return nil, deployerr.Publish("publish", fmt.Errorf("no artifact to upload"))
	}
	if req.Destination.Bucket == "" {
		return nil, deployerr.Configuration("publish", fmt.Errorf("target has no storage bucket"))
	}

	data, err := os.ReadFile(req.Artifact.Location)
	if err != nil {
		return nil, deployerr.Publish("read artifact", err)
	}

	if err := p.store.EnsureBucket(ctx, req.Destination.Bucket); err != nil {
		return nil, deployerr.Publish("ensure bucket", err)
	}

	contentType := ""
	if filepath.Ext(req.Artifact.Location) == ".zip" {
		contentType = "application/zip"
	}
	metadata := map[string]string{
		"revision":    req.Artifact.Revision,
		"build-id":    req.Artifact.BuildID,
		"environment": string(req.Environment),
	}

	keys := Keys(req.Destination, req.Service, req.Artifact)
	for _, key := range keys {
		err := p.store.PutObject(ctx, storage.Object{
			Bucket:      req.Destination.Bucket,
			Key:         key,
			Body:        data,
			ContentType: contentType,
			Metadata:    metadata,
		})
		if err != nil {
			return nil, deployerr.Publish("upload", err)
		}
		logger.WithFields(map[string]interface{}{
			"bucket": req.Destination.Bucket,
			"key":    key,
			"bytes":  len(data),
		}).Info("Artifact uploaded")
	}
	return keys, nil
}
