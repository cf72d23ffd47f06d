/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package auth implements wallet sign-in: one-time nonces, ed25519 signature
// verification of the sign-in message and HS256 session tokens.
package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blnkfinance/vaultpay/config"
	"github.com/blnkfinance/vaultpay/internal/apierror"
	"github.com/golang-jwt/jwt/v5"
	"github.com/mr-tron/base58"
	"github.com/redis/go-redis/v9"
)

const nonceBytes = 24

// Login is the body of a sign-in attempt.
type Login struct {
	Wallet    string `json:"wallet"`
	Nonce     string `json:"nonce"`
	IssuedAt  string `json:"issued_at"`
	Signature string `json:"signature"`
}

// Session is issued after a successful login.
type Session struct {
	Token            string    `json:"token"`
	Wallet           string    `json:"wallet"`
	ExpiresAt        time.Time `json:"expires_at"`
	ExpiresInSeconds int64     `json:"expires_in_seconds"`
}

type sessionClaims struct {
	jwt.RegisteredClaims
	Wallet string `json:"wallet"`
}

// Authenticator issues nonces and session tokens.
type Authenticator struct {
	redis  redis.UniversalClient
	cfg    config.AuthConfig
	now    func() time.Time
	random func([]byte) (int, error)
}

func NewAuthenticator(client redis.UniversalClient, cfg config.AuthConfig) *Authenticator {
	return &Authenticator{
		redis:  client,
		cfg:    cfg,
		now:    time.Now,
		random: rand.Read,
	}
}

func nonceKey(nonce string) string {
	return fmt.Sprintf("vaultpay:auth:nonce:%s", nonce)
}

// SignInMessage is the exact text a wallet signs to log in.
func SignInMessage(wallet, nonce, issuedAt string) string {
	return strings.Join([]string{
		"VaultPay Sign-In",
		"",
		"Sign this message to authenticate with VaultPay.",
		"This signature is free and does not submit a transaction.",
		"",
		"Wallet: " + wallet,
		"Nonce: " + nonce,
		"Issued At: " + issuedAt,
	}, "\n")
}

// IssueNonce stores a fresh one-time nonce.
func (a *Authenticator) IssueNonce(ctx context.Context) (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := a.random(buf); err != nil {
		return "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to generate nonce", err)
	}
	nonce := base64.RawURLEncoding.EncodeToString(buf)
	if err := a.redis.Set(ctx, nonceKey(nonce), "1", a.nonceTTL()).Err(); err != nil {
		return "", apierror.NewAPIError(apierror.ErrInternalServer, "Failed to store nonce", err)
	}
	return nonce, nil
}

// Login verifies the signed sign-in message and consumes its nonce.
func (a *Authenticator) Login(ctx context.Context, login Login) (*Session, error) {
	if a.cfg.JWTSecret == "" {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Session auth not configured", nil)
	}
	if login.Wallet == "" || login.Nonce == "" || login.IssuedAt == "" || login.Signature == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Missing required fields", nil)
	}

	issuedAt, err := time.Parse(time.RFC3339Nano, login.IssuedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid issued_at", nil)
	}
	skew := a.now().Sub(issuedAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > a.maxSkew() {
		return nil, apierror.NewAPIError(apierror.ErrUnauthorized, "Auth timestamp outside allowed window", nil)
	}

	publicKey, err := DecodeWallet(login.Wallet)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid wallet public key", nil)
	}
	signature, err := base64.StdEncoding.DecodeString(login.Signature)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid signature encoding", nil)
	}

	consumed, err := a.redis.GetDel(ctx, nonceKey(login.Nonce)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read nonce", err)
	}
	if consumed == "" {
		return nil, apierror.NewAPIError(apierror.ErrUnauthorized, "Unknown or expired auth nonce", nil)
	}

	message := SignInMessage(login.Wallet, login.Nonce, login.IssuedAt)
	if !ed25519.Verify(publicKey, []byte(message), signature) {
		return nil, apierror.NewAPIError(apierror.ErrUnauthorized, "Invalid signature", nil)
	}

	return a.IssueSession(login.Wallet)
}

// IssueSession signs a session token for wallet.
func (a *Authenticator) IssueSession(wallet string) (*Session, error) {
	now := a.now()
	exp := now.Add(a.tokenTTL())
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer(),
			Audience:  jwt.ClaimStrings{a.issuer()},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Wallet: wallet,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.cfg.JWTSecret))
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to sign session token", err)
	}
	return &Session{
		Token:            token,
		Wallet:           wallet,
		ExpiresAt:        exp.UTC(),
		ExpiresInSeconds: int64(a.tokenTTL().Seconds()),
	}, nil
}

// VerifySession validates a session token and returns its wallet.
func (a *Authenticator) VerifySession(token string) (string, error) {
	if a.cfg.JWTSecret == "" {
		return "", apierror.NewAPIError(apierror.ErrUnauthorized, "Session auth not configured", nil)
	}
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return []byte(a.cfg.JWTSecret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer()),
		jwt.WithAudience(a.issuer()),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", apierror.NewAPIError(apierror.ErrUnauthorized, "Session expired", nil)
		}
		return "", apierror.NewAPIError(apierror.ErrUnauthorized, "Invalid session token", nil)
	}
	if claims.Wallet == "" {
		return "", apierror.NewAPIError(apierror.ErrUnauthorized, "Invalid token payload", nil)
	}
	return claims.Wallet, nil
}

// DecodeWallet decodes a base58 Solana address into an ed25519 public key.
func DecodeWallet(wallet string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(wallet)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("wallet must decode to %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// ValidWallet reports whether wallet is a well formed address.
func ValidWallet(wallet string) bool {
	_, err := DecodeWallet(wallet)
	return err == nil
}

// NonceTTL is how long an issued nonce stays valid.
func (a *Authenticator) NonceTTL() time.Duration {
	return a.nonceTTL()
}

func (a *Authenticator) nonceTTL() time.Duration {
	if a.cfg.NonceTTL > 0 {
		return a.cfg.NonceTTL
	}
	return 5 * time.Minute
}

func (a *Authenticator) maxSkew() time.Duration {
	if a.cfg.MaxClockSkew > 0 {
		return a.cfg.MaxClockSkew
	}
	return 5 * time.Minute
}

func (a *Authenticator) tokenTTL() time.Duration {
	if a.cfg.TokenTTL > 0 {
		return a.cfg.TokenTTL
	}
	return 24 * time.Hour
}

func (a *Authenticator) issuer() string {
	if a.cfg.SessionIssuer != "" {
		return a.cfg.SessionIssuer
	}
	return "vaultpay"
}
