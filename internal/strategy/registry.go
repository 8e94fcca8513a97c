package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/imyashkale/deployer/internal/logger"
	"github.com/imyashkale/deployer/internal/models"
)

const (
	// DefaultNodePort is used when an in-cluster registry's node port cannot be found
	DefaultNodePort = 30500
	inClusterSuffix = ".svc.cluster.local"
)

// NodePortResolver looks up the node port of a service
type NodePortResolver interface {
	ServiceNodePort(ctx context.Context, namespace, service string) (int, error)
}

// IsInClusterRegistry reports whether host is a cluster service address
func IsInClusterRegistry(host string) bool {
	return strings.Contains(host, inClusterSuffix)
}

// ResolvePushTarget returns the registry host images are pushed through.
// In-cluster registry addresses do not resolve from the deploying host, so
// pushes go through localhost on the registry service's node port: the
// configured one, else the one the cluster reports, else DefaultNodePort.
func ResolvePushTarget(ctx context.Context, reg models.RegistrySettings, resolver NodePortResolver) string {
	if !IsInClusterRegistry(reg.Host) {
		return reg.Host
	}

	port := reg.NodePort
	if port <= 0 {
		service, namespace := registryService(reg)
		port = DefaultNodePort
		if resolver != nil {
			p, err := resolver.ServiceNodePort(ctx, namespace, service)
			if err == nil && p > 0 {
				port = p
			} else {
				logger.WithFields(map[string]interface{}{
					"registry":  reg.Host,
					"service":   service,
					"namespace": namespace,
					"node_port": DefaultNodePort,
				}).Warn("Could not resolve registry node port, using default")
			}
		}
	}
	return fmt.Sprintf("localhost:%d", port)
}

// registryService derives the service and namespace from a host such as
// registry.registry.svc.cluster.local:5000 unless configured explicitly
func registryService(reg models.RegistrySettings) (string, string) {
	host := reg.Host
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	labels := strings.Split(strings.TrimSuffix(host, inClusterSuffix), ".")

	service, namespace := reg.Service, reg.ServiceNamespace
	if service == "" {
		service = labels[0]
	}
	if namespace == "" {
		namespace = "default"
		if len(labels) > 1 {
			namespace = labels[1]
		}
	}
	return service, namespace
}

// imageRef joins a registry host, repository and tag
func imageRef(host, image, tag string) string {
	if host == "" {
		return image + ":" + tag
	}
	return host + "/" + image + ":" + tag
}

// imageName is the repository path without a tag
func imageName(host, image string) string {
	if host == "" {
		return image
	}
	return host + "/" + image
}
