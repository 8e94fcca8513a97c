package container

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"

	"github.com/imyashkale/deployer/internal/logger"
)

// ecrAPI is the subset of the ECR client used here
type ecrAPI interface {
	DescribeRepositories(ctx context.Context, params *ecr.DescribeRepositoriesInput, optFns ...func(*ecr.Options)) (*ecr.DescribeRepositoriesOutput, error)
	CreateRepository(ctx context.Context, params *ecr.CreateRepositoryInput, optFns ...func(*ecr.Options)) (*ecr.CreateRepositoryOutput, error)
	GetAuthorizationToken(ctx context.Context, params *ecr.GetAuthorizationTokenInput, optFns ...func(*ecr.Options)) (*ecr.GetAuthorizationTokenOutput, error)
}

// loginer is implemented by *Docker
type loginer interface {
	Login(ctx context.Context, registry, username, password string) error
}

// RegistryAuth prepares a registry before images are pushed to it
type RegistryAuth interface {
	Authenticate(ctx context.Context, host, repository string) error
}

// NoAuth is used for registries that accept anonymous pushes
type NoAuth struct{}

func (NoAuth) Authenticate(context.Context, string, string) error { return nil }

// ECRAuth logs docker in to ECR registries and creates missing repositories.
// Hosts that are not ECR registries are left alone.
type ECRAuth struct {
	client ecrAPI
	docker loginer
}

// NewECRAuth creates an ECR authenticator
func NewECRAuth(cfg aws.Config, docker *Docker) *ECRAuth {
	return &ECRAuth{
		client: ecr.NewFromConfig(cfg),
		docker: docker,
	}
}

// IsECRHost reports whether host is a private ECR registry
func IsECRHost(host string) bool {
	return strings.Contains(host, ".dkr.ecr.") && strings.HasSuffix(host, ".amazonaws.com")
}

// Authenticate ensures repository exists and logs docker in to host
func (a *ECRAuth) Authenticate(ctx context.Context, host, repository string) error {
	if !IsECRHost(host) {
		return nil
	}
	if err := a.EnsureRepository(ctx, repository); err != nil {
		return err
	}
	return a.login(ctx)
}

// EnsureRepository gets or creates an ECR repository
func (a *ECRAuth) EnsureRepository(ctx context.Context, name string) error {
	out, err := a.client.DescribeRepositories(ctx, &ecr.DescribeRepositoriesInput{
		RepositoryNames: []string{name},
	})
	if err == nil && len(out.Repositories) > 0 {
		return nil
	}
	var notFound *types.RepositoryNotFoundException
	if err != nil && !errors.As(err, &notFound) {
		return fmt.Errorf("failed to describe ECR repository: %w", err)
	}

	created, err := a.client.CreateRepository(ctx, &ecr.CreateRepositoryInput{
		RepositoryName: aws.String(name),
		Tags: []types.Tag{
			{
				Key:   aws.String("managed-by"),
				Value: aws.String("deployer"),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create ECR repository: %w", err)
	}

	logger.WithField("repository", aws.ToString(created.Repository.RepositoryUri)).Info("Created ECR repository")
	return nil
}

// login authenticates docker with ECR
func (a *ECRAuth) login(ctx context.Context) error {
	out, err := a.client.GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{})
	if err != nil {
		return fmt.Errorf("failed to get ECR authorization token: %w", err)
	}
	if len(out.AuthorizationData) == 0 {
		return fmt.Errorf("no authorization data returned")
	}

	authData := out.AuthorizationData[0]
	username, password, err := decodeAuthorizationToken(aws.ToString(authData.AuthorizationToken))
	if err != nil {
		return err
	}
	return a.docker.Login(ctx, aws.ToString(authData.ProxyEndpoint), username, password)
}

// decodeAuthorizationToken splits a base64 "username:password" token
func decodeAuthorizationToken(token string) (string, string, error) {
	decoded, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", "", fmt.Errorf("invalid authorization token encoding: %w", err)
	}
	parts := strings.SplitN(string(decoded), ":", 2)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid authorization token format")
	}
	return parts[0], parts[1], nil
}
