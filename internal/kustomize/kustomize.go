// Package kustomize finds, creates and patches the kustomization file that a
// GitOps controller reconciles for a service.
package kustomize

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// DefaultResources is the resource list of a synthesized kustomization
var DefaultResources = []string{"deployment.yaml", "service.yaml"}

// Candidates returns the paths searched for a service's kustomization, in order
func Candidates(override, base, namespace, name string) []string {
	var paths []string
	if override != "" {
		paths = append(paths, override)
	}
	dir := filepath.Join(base, "infrastructure", namespace, "services", name)
	return append(paths,
		filepath.Join(dir, "kustomization.yaml"),
		filepath.Join(dir, "kustomization.yml"),
	)
}

// Locate reads the first candidate that exists. found is false when none do.
func Locate(paths []string) (path string, data []byte, found bool, err error) {
	for _, p := range paths {
		b, readErr := os.ReadFile(p)
		if errors.Is(readErr, fs.ErrNotExist) {
			continue
		}
		if readErr != nil {
			return "", nil, false, fmt.Errorf("failed to read %s: %w", p, readErr)
		}
		return p, b, true, nil
	}
	return "", nil, false, nil
}

// Synthesize builds a minimal kustomization with a single image entry
func Synthesize(namespace string, resources []string, image, tag string) ([]byte, error) {
	if len(resources) == 0 {
		resources = DefaultResources
	}
	doc := yaml.MapSlice{
		{Key: "apiVersion", Value: "kustomize.config.k8s.io/v1beta1"},
		{Key: "kind", Value: "Kustomization"},
	}
	if namespace != "" {
		doc = append(doc, yaml.MapItem{Key: "namespace", Value: namespace})
	}
	doc = append(doc,
		yaml.MapItem{Key: "resources", Value: resources},
		yaml.MapItem{Key: "images", Value: []interface{}{imageEntry(image, tag)}},
	)
	return yaml.Marshal(doc)
}

// PatchImageTag sets the newTag of the images entry named image, appending
// an entry when there is none. Key order and unrelated fields are preserved.
// When the tag is already set the input is returned unchanged.
func PatchImageTag(doc []byte, image, tag string) ([]byte, bool, error) {
	if image == "" || tag == "" {
		return nil, false, errors.New("image name and tag are required")
	}

	var root yaml.MapSlice
	if err := yaml.Unmarshal(doc, &root); err != nil {
		return nil, false, fmt.Errorf("invalid kustomization: %w", err)
	}

	idx := -1
	for i, item := range root {
		if item.Key == "images" {
			idx = i
			break
		}
	}

	var images []interface{}
	if idx >= 0 && root[idx].Value != nil {
		list, ok := root[idx].Value.([]interface{})
		if !ok {
			return nil, false, errors.New("invalid kustomization: images is not a list")
		}
		images = list
	}

	changed := true
	matched := false
	for i, raw := range images {
		entry, ok := raw.(yaml.MapSlice)
		if !ok || fmt.Sprint(lookup(entry, "name")) != image {
			continue
		}
		matched = true
		if v := lookup(entry, "newTag"); v != nil && fmt.Sprint(v) == tag {
			changed = false
			break
		}
		images[i] = set(entry, "newTag", tag)
		break
	}
	if !changed {
		return doc, false, nil
	}
	if !matched {
		images = append(images, imageEntry(image, tag))
	}

	if idx >= 0 {
		root[idx].Value = images
	} else {
		root = append(root, yaml.MapItem{Key: "images", Value: images})
	}

	out, err := yaml.Marshal(root)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode kustomization: %w", err)
	}
	return out, true, nil
}

// ImageTag returns the newTag recorded for image, if any
func ImageTag(doc []byte, image string) (string, bool) {
	var root yaml.MapSlice
	if err := yaml.Unmarshal(doc, &root); err != nil {
		return "", false
	}
	images, _ := lookup(root, "images").([]interface{})
	for _, raw := range images {
		entry, ok := raw.(yaml.MapSlice)
		if !ok || fmt.Sprint(lookup(entry, "name")) != image {
			continue
		}
		if v := lookup(entry, "newTag"); v != nil {
			return fmt.Sprint(v), true
		}
	}
	return "", false
}

func imageEntry(image, tag string) yaml.MapSlice {
	return yaml.MapSlice{
		{Key: "name", Value: image},
		{Key: "newTag", Value: tag},
	}
}

func lookup(m yaml.MapSlice, key string) interface{} {
	for _, item := range m {
		if item.Key == key {
			return item.Value
		}
	}
	return nil
}

func set(m yaml.MapSlice, key string, value interface{}) yaml.MapSlice {
	for i, item := range m {
		if item.Key == key {
			m[i].Value = value
			return m
		}
	}
	return append(m, yaml.MapItem{Key: key, Value: value})
}
