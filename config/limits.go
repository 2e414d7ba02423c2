package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/tuplestreams/errors"
)

// Limits bound what a Loader accepts from files and the environment.
type Limits struct {
	MaxFileSize int64 // bytes
	MaxDepth    int   // nesting of maps and lists
	MaxEnvValue int   // bytes per override
}

// DefaultLimits returns the limits NewLoader starts with.
func DefaultLimits() Limits {
	return Limits{
		MaxFileSize: 1 << 20,
		MaxDepth:    16,
		MaxEnvValue: 4096,
	}
}

func (lim Limits) withDefaults() Limits {
	d := DefaultLimits()
	if lim.MaxFileSize <= 0 {
		lim.MaxFileSize = d.MaxFileSize
	}
	if lim.MaxDepth <= 0 {
		lim.MaxDepth = d.MaxDepth
	}
	if lim.MaxEnvValue <= 0 {
		lim.MaxEnvValue = d.MaxEnvValue
	}
	return lim
}

// readFile reads a config layer. Only regular .json, .yaml and .yml files within the
// size limit are accepted, and relative paths may not climb out of the working directory.
func (lim Limits) readFile(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.Validationf("config", "readFile", "empty config path")
	}
	clean := filepath.Clean(path)
	if !filepath.IsAbs(clean) && (clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator))) {
		return nil, errors.Validationf("config", "readFile", "%s leaves the working directory", path)
	}
	switch strings.ToLower(filepath.Ext(clean)) {
	case ".json", ".yaml", ".yml":
	default:
		return nil, errors.Validationf("config", "readFile", "%s is not a JSON or YAML file", path)
	}

	info, err := os.Stat(clean)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "readFile", "stat "+path)
	}
	if !info.Mode().IsRegular() {
		return nil, errors.Validationf("config", "readFile", "%s is not a regular file", path)
	}
	if info.Size() > lim.MaxFileSize {
		return nil, errors.Validationf("config", "readFile", "%s is %d bytes, limit %d", path, info.Size(), lim.MaxFileSize)
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "readFile", "read "+path)
	}
	return data, nil
}

// checkDepth rejects decoded documents nested deeper than MaxDepth.
func (lim Limits) checkDepth(v any) error {
	if d := depth(v); d > lim.MaxDepth {
		return errors.Validationf("config", "checkDepth", "nesting depth %d exceeds %d", d, lim.MaxDepth)
	}
	return nil
}

func depth(v any) int {
	deepest := 0
	switch val := v.(type) {
	case map[string]any:
		for _, elem := range val {
			deepest = max(deepest, depth(elem))
		}
	case []any:
		for _, elem := range val {
			deepest = max(deepest, depth(elem))
		}
	default:
		return 0
	}
	return deepest + 1
}

// checkEnv rejects oversized override values and values carrying NUL bytes.
func (lim Limits) checkEnv(key, value string) error {
	if len(value) > lim.MaxEnvValue {
		return errors.Validationf("config", "checkEnv", "%s is %d bytes, limit %d", key, len(value), lim.MaxEnvValue)
	}
	if strings.ContainsRune(value, 0) {
		return errors.Validationf("config", "checkEnv", "%s contains a NUL byte", key)
	}
	return nil
}
