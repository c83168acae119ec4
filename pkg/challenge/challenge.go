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

// Package challenge issues and verifies single-use, expiring,
// HMAC-authenticated challenge tokens. A token round-trips through the
// untrusted client between option generation and response verification;
// the first successful verification permanently consumes it.
package challenge

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/jeremyhahn/go-passkey/pkg/cache"
	"github.com/jeremyhahn/go-passkey/pkg/secrets"
)

// Sentinel errors for token verification, in check order.
var (
	// ErrMalformedToken is returned when a token fails to decode or does
	// not have exactly four fields.
	ErrMalformedToken = errors.New("malformed challenge token")

	// ErrInvalidSignature is returned when the token's MAC does not match.
	ErrInvalidSignature = errors.New("invalid challenge token signature")

	// ErrExpired is returned when the token is past its expiry.
	ErrExpired = errors.New("challenge token expired")

	// ErrNonceReplayed is returned when the token's nonce was already
	// consumed by an earlier verification.
	ErrNonceReplayed = errors.New("challenge token already used")

	// ErrCorruptPayload is returned when the challenge field fails to decode.
	ErrCorruptPayload = errors.New("corrupt challenge payload")
)

// MinChallengeSize is the minimum challenge length in bytes.
const MinChallengeSize = 16

// keyInfo binds the derived MAC key to this purpose.
const keyInfo = "go-passkey challenge mac v1"

const noncePrefix = "challenge:nonce:"

// Config configures the challenge service.
type Config struct {
	// TTL is how long an issued token remains verifiable.
	// Default: 120s
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// SkewBuffer extends the nonce cache TTL past token expiry so a
	// token near its deadline cannot be replayed through clock skew.
	// Default: 60s
	SkewBuffer time.Duration `yaml:"skew_buffer" json:"skew_buffer"`
}

// SetDefaults sets default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.TTL == 0 {
		c.TTL = 120 * time.Second
	}
	if c.SkewBuffer == 0 {
		c.SkewBuffer = 60 * time.Second
	}
}

// Service issues and verifies signed challenge tokens.
type Service struct {
	key    []byte
	ttl    time.Duration
	skew   time.Duration
	nonces cache.Cache
	now    func() time.Time
}

// ServiceParams contains dependencies for creating a challenge service.
type ServiceParams struct {
	// Config holds TTL settings. Optional; defaults are applied.
	Config *Config

	// Secret provides the system secret the MAC key is derived from (required).
	Secret secrets.Provider

	// Nonces is the single-use nonce cache (required).
	Nonces cache.Cache
}

// NewService creates a challenge service. The HMAC key is derived from
// the system secret with HKDF-SHA256 so the raw secret never signs
// anything directly.
func NewService(params ServiceParams) (*Service, error) {
	if params.Secret == nil {
		return nil, fmt.Errorf("secret provider is required")
	}
	if params.Nonces == nil {
		return nil, fmt.Errorf("nonce cache is required")
	}

	cfg := params.Config
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()

	secret, err := params.Secret.Secret()
	if err != nil {
		return nil, err
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive challenge key: %w", err)
	}

	return &Service{
		key:    key,
		ttl:    cfg.TTL,
		skew:   cfg.SkewBuffer,
		nonces: params.Nonces,
		now:    time.Now,
	}, nil
}

// Issue signs the given challenge into a single-use token. The caller
// supplies the challenge bytes so the same value can be embedded in the
// ceremony options sent to the client.
func (s *Service) Issue(ctx context.Context, challenge []byte) (string, error) {
	if len(challenge) < MinChallengeSize {
		return "", fmt.Errorf("challenge must be at least %d bytes", MinChallengeSize)
	}

	nonce := uuid.NewString()
	expiresAt := s.now().Add(s.ttl).Unix()

	body := strings.Join([]string{
		base64.RawURLEncoding.EncodeToString(challenge),
		strconv.FormatInt(expiresAt, 10),
		nonce,
	}, "|")

	// Nonce outlives the token by the skew buffer so late verifications
	// hit NonceReplayed rather than silently passing on a fresh cache miss.
	if err := s.nonces.Put(ctx, noncePrefix+nonce, s.ttl+s.skew); err != nil {
		return "", fmt.Errorf("failed to record nonce: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString([]byte(body + "|" + s.sign(body))), nil
}

// Verify checks a token and returns its challenge bytes. A token
// verifies successfully at most once; concurrent verifications of the
// same token yield exactly one success.
//
// Checks run in a fixed order: decode, format, signature, expiry,
// single-use consumption, payload decode. The signature is verified
// before any field is trusted.
func (s *Service) Verify(ctx context.Context, token string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrMalformedToken
	}

	parts := strings.Split(string(raw), "|")
	if len(parts) != 4 {
		return nil, ErrMalformedToken
	}

	body := strings.Join(parts[:3], "|")
	if !hmac.Equal([]byte(s.sign(body)), []byte(parts[3])) {
		return nil, ErrInvalidSignature
	}

	expiresAt, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, ErrMalformedToken
	}
	if s.now().Unix() > expiresAt {
		return nil, ErrExpired
	}

	removed, err := s.nonces.Remove(ctx, noncePrefix+parts[2])
	if err != nil {
		return nil, fmt.Errorf("failed to consume nonce: %w", err)
	}
	if !removed {
		return nil, ErrNonceReplayed
	}

	challenge, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, ErrCorruptPayload
	}
	return challenge, nil
}

func (s *Service) sign(body string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
