package redis

import (
	"strings"
)

// KeyBuilder helps build Redis keys according to our naming convention.
type KeyBuilder struct {
	namespace string
	context   string
}

// NewKeyBuilder creates a new KeyBuilder with the given namespace.
func NewKeyBuilder(namespace, context string) *KeyBuilder {
	return &KeyBuilder{
		namespace: strings.ToLower(namespace),
		context:   strings.ToLower(context),
	}
}

// Build creates a Redis key following our naming convention.
func (kb *KeyBuilder) Build(entity, attribute string) string {
	parts := []string{
		kb.namespace,
		kb.context,
		strings.ToLower(entity),
	}
	if attribute != "" {
		parts = append(parts, strings.ToLower(attribute))
	}
	return strings.Join(parts, ":")
}

// BuildPattern creates a Redis key pattern for searching.
func (kb *KeyBuilder) BuildPattern(entity, pattern string) string {
	if pattern == "" {
		pattern = "*"
	}
	parts := []string{
		kb.namespace,
		kb.context,
		strings.ToLower(entity),
		pattern,
	}
	return strings.Join(parts, ":")
}

// GetNamespace returns the namespace.
func (kb *KeyBuilder) GetNamespace() string {
	return kb.namespace
}

// WithContext creates a new key builder with a different context.
func (kb *KeyBuilder) WithContext(context string) *KeyBuilder {
	return NewKeyBuilder(kb.namespace, context)
}
