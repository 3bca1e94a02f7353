package secret

import (
	"context"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// ServiceName for keyring entries
	ServiceName = "mcpdock"

	SecretTypeEnv     = "env"
	SecretTypeKeyring = "keyring"
)

// EnvProvider resolves secrets from environment variables
type EnvProvider struct{}

// NewEnvProvider creates a new environment variable provider
func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

// Resolve retrieves the secret value from environment variables
func (p *EnvProvider) Resolve(_ context.Context, ref SecretRef) (string, error) {
	value := os.Getenv(ref.Name)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not found or empty", ref.Name)
	}
	return value, nil
}

// Store is not supported for environment variables
func (p *EnvProvider) Store(_ context.Context, _ SecretRef, _ string) error {
	return fmt.Errorf("env provider does not support storing secrets")
}

// Delete is not supported for environment variables
func (p *EnvProvider) Delete(_ context.Context, _ SecretRef) error {
	return fmt.Errorf("env provider does not support deleting secrets")
}

// IsAvailable always holds for the process environment
func (p *EnvProvider) IsAvailable() bool {
	return true
}

// KeyringProvider resolves secrets from the OS keyring (Keychain, Secret
// Service, WinCred).
type KeyringProvider struct {
	serviceName string
}

// NewKeyringProvider creates a new keyring provider
func NewKeyringProvider() *KeyringProvider {
	return &KeyringProvider{
		serviceName: ServiceName,
	}
}

// Resolve retrieves the secret value from the OS keyring
func (p *KeyringProvider) Resolve(_ context.Context, ref SecretRef) (string, error) {
	value, err := keyring.Get(p.serviceName, ref.Name)
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s from keyring: %w", ref.Name, err)
	}
	return value, nil
}

// Store saves a secret to the OS keyring
func (p *KeyringProvider) Store(_ context.Context, ref SecretRef, value string) error {
	if err := keyring.Set(p.serviceName, ref.Name, value); err != nil {
		return fmt.Errorf("failed to store secret %s in keyring: %w", ref.Name, err)
	}
	return nil
}

// Delete removes a secret from the OS keyring
func (p *KeyringProvider) Delete(_ context.Context, ref SecretRef) error {
	if err := keyring.Delete(p.serviceName, ref.Name); err != nil {
		return fmt.Errorf("failed to delete secret %s from keyring: %w", ref.Name, err)
	}
	return nil
}

// IsAvailable probes the keyring with a read; "not found" still means the
// backend itself answered.
func (p *KeyringProvider) IsAvailable() bool {
	_, err := keyring.Get(p.serviceName, "_availability_probe")
	return err == nil || err == keyring.ErrNotFound
}
