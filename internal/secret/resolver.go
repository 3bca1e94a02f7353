package secret

import (
	"context"
	"fmt"
	"strings"
)

// SecretRef represents a reference to a secret
type SecretRef struct {
	Type     string // env, keyring
	Name     string // environment variable name or keyring key
	Original string // original reference string
}

// Provider resolves one secret reference type
type Provider interface {
	// Resolve retrieves the actual secret value
	Resolve(ctx context.Context, ref SecretRef) (string, error)

	// Store saves a secret (if supported by the provider)
	Store(ctx context.Context, ref SecretRef, value string) error

	// Delete removes a secret (if supported by the provider)
	Delete(ctx context.Context, ref SecretRef) error

	// IsAvailable checks if the provider is available on the current system
	IsAvailable() bool
}

// Resolver expands ${type:name} references through registered providers.
// Server header values may carry such references so bearer tokens never land
// in the registry database in plaintext.
type Resolver struct {
	providers map[string]Provider
	masker    func(value string)
}

// NewResolver creates a resolver with the env and keyring providers registered
func NewResolver() *Resolver {
	r := &Resolver{
		providers: make(map[string]Provider),
	}

	r.RegisterProvider(SecretTypeEnv, NewEnvProvider())
	r.RegisterProvider(SecretTypeKeyring, NewKeyringProvider())

	return r
}

// RegisterProvider registers a provider for a secret type
func (r *Resolver) RegisterProvider(secretType string, provider Provider) {
	r.providers[secretType] = provider
}

// SetMasker installs a callback invoked with every successfully resolved
// value, so the logging layer can mask those values in output.
func (r *Resolver) SetMasker(masker func(value string)) {
	r.masker = masker
}

// Resolve resolves a single secret reference
func (r *Resolver) Resolve(ctx context.Context, ref SecretRef) (string, error) {
	provider, exists := r.providers[ref.Type]
	if !exists {
		return "", fmt.Errorf("no provider for secret type: %s", ref.Type)
	}
	if !provider.IsAvailable() {
		return "", fmt.Errorf("provider for %s is not available on this system", ref.Type)
	}

	value, err := provider.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if r.masker != nil {
		r.masker(value)
	}
	return value, nil
}

// Store stores a secret using the provider for its type
func (r *Resolver) Store(ctx context.Context, ref SecretRef, value string) error {
	provider, exists := r.providers[ref.Type]
	if !exists {
		return fmt.Errorf("no provider for secret type: %s", ref.Type)
	}
	if !provider.IsAvailable() {
		return fmt.Errorf("provider for %s is not available on this system", ref.Type)
	}
	return provider.Store(ctx, ref, value)
}

// Delete deletes a secret using the provider for its type
func (r *Resolver) Delete(ctx context.Context, ref SecretRef) error {
	provider, exists := r.providers[ref.Type]
	if !exists {
		return fmt.Errorf("no provider for secret type: %s", ref.Type)
	}
	if !provider.IsAvailable() {
		return fmt.Errorf("provider for %s is not available on this system", ref.Type)
	}
	return provider.Delete(ctx, ref)
}

// ExpandSecretRefs replaces every secret reference in a string with its
// resolved value. Strings without references pass through untouched.
func (r *Resolver) ExpandSecretRefs(ctx context.Context, input string) (string, error) {
	if !IsSecretRef(input) {
		return input, nil
	}

	result := input
	for _, ref := range FindSecretRefs(input) {
		value, err := r.Resolve(ctx, *ref)
		if err != nil {
			return "", fmt.Errorf("failed to resolve secret %s: %w", ref.Original, err)
		}
		result = strings.ReplaceAll(result, ref.Original, value)
	}
	return result, nil
}

// ExpandHeaders returns a copy of headers with every value expanded. The
// input map is never mutated; discovery resolves just before dialing so
// resolved values stay out of storage.
func (r *Resolver) ExpandHeaders(ctx context.Context, headers map[string]string) (map[string]string, error) {
	if len(headers) == 0 {
		return nil, nil
	}

	expanded := make(map[string]string, len(headers))
	for key, value := range headers {
		resolved, err := r.ExpandSecretRefs(ctx, value)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", key, err)
		}
		expanded[key] = resolved
	}
	return expanded, nil
}
