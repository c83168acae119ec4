// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package secrets provides access to the system secret that anchors
// challenge signing and user handle derivation.
package secrets

import (
	"errors"
	"fmt"
	"os"
)

// MinSecretLength is the minimum accepted secret length in bytes.
const MinSecretLength = 32

// ErrMissingOrWeakSecret is returned when the system secret is absent or
// shorter than MinSecretLength. Callers must treat this as fatal.
var ErrMissingOrWeakSecret = errors.New("system secret is missing or too weak")

// Provider supplies the system secret.
type Provider interface {
	// Secret returns the system secret bytes.
	Secret() ([]byte, error)
}

// StaticProvider holds a secret in memory.
type StaticProvider struct {
	secret []byte
}

// NewStaticProvider creates a provider from the given secret.
// The secret must be at least MinSecretLength bytes.
func NewStaticProvider(secret []byte) (*StaticProvider, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrMissingOrWeakSecret
	}
	buf := make([]byte, len(secret))
	copy(buf, secret)
	return &StaticProvider{secret: buf}, nil
}

// Secret returns the configured secret.
func (p *StaticProvider) Secret() ([]byte, error) {
	return p.secret, nil
}

// EnvProvider reads the secret from an environment variable.
type EnvProvider struct {
	name string
}

// NewEnvProvider creates a provider backed by the named environment
// variable. The variable is read and validated at construction so a
// missing or weak secret fails startup, not the first ceremony.
func NewEnvProvider(name string) (*EnvProvider, error) {
	if name == "" {
		return nil, fmt.Errorf("environment variable name is required")
	}
	val := os.Getenv(name)
	if len(val) < MinSecretLength {
		return nil, fmt.Errorf("%s: %w", name, ErrMissingOrWeakSecret)
	}
	return &EnvProvider{name: name}, nil
}

// Secret returns the current value of the environment variable.
func (p *EnvProvider) Secret() ([]byte, error) {
	val := os.Getenv(p.name)
	if len(val) < MinSecretLength {
		return nil, fmt.Errorf("%s: %w", p.name, ErrMissingOrWeakSecret)
	}
	return []byte(val), nil
}
