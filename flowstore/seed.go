package flowstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xkayo32/pytake-sub013/errors"
)

// LoadFile parses a single YAML flow definition and validates it.
func LoadFile(path string) (*Flow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapTransient(err, "flowstore", "LoadFile", fmt.Sprintf("read %s", path))
	}

	var flow Flow
	if err := yaml.Unmarshal(data, &flow); err != nil {
		return nil, errors.WrapInvalid(err, "flowstore", "LoadFile", fmt.Sprintf("parse %s", path))
	}
	if err := flow.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &flow, nil
}

// LoadDir loads every *.yaml/*.yml flow seed in dir, sorted by filename so
// publish order is deterministic. A missing directory yields no flows and
// no error, letting deployments run without seeds.
func LoadDir(dir string) ([]*Flow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "flowstore", "LoadDir", fmt.Sprintf("read dir %s", dir))
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	flows := make([]*Flow, 0, len(paths))
	for _, path := range paths {
		flow, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		flows = append(flows, flow)
	}
	return flows, nil
}
