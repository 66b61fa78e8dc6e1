package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Hash returns a stable digest of the configuration.
func (c *Config) Hash() string {
	return hashAny(c)
}

// Diff returns the YAML names of the top-level sections that differ between
// old and new, in declaration order.
func Diff(old, new *Config) []string {
	sections := []struct {
		name     string
		old, new any
	}{
		{"log_level", old.LogLevel, new.LogLevel},
		{"server", old.Server, new.Server},
		{"billing", old.Billing, new.Billing},
		{"secrets", old.Secrets, new.Secrets},
		{"feature_flags", old.FeatureFlags, new.FeatureFlags},
		{"tracing", old.Tracing, new.Tracing},
		{"audit", old.Audit, new.Audit},
		{"auth", old.Auth, new.Auth},
	}
	var changed []string
	for _, s := range sections {
		if hashAny(s.old) != hashAny(s.new) {
			changed = append(changed, s.name)
		}
	}
	return changed
}

func hashAny(v any) string {
	if v == nil {
		return "nil"
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("error:%v", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
