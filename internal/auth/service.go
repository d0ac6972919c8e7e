package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Config holds the single-operator credential and token parameters.
// The tool runs on a technician's workstation or a small appliance,
// so there is no user store; one admin account is configured at startup.
type Config struct {
	AdminUsername string
	AdminHash     string
	JWTSecret     string
	TokenTTL      time.Duration
}

type Service struct {
	config Config
}

func NewService(config Config) *Service {
	return &Service{config: config}
}

// Login checks the operator credential and issues a session token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	if username != s.config.AdminUsername || !CheckPassword(password, s.config.AdminHash) {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.config, username, "admin")
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

func (s *Service) Validate(tokenString string) (*Claims, error) {
	return ValidateToken(s.config.JWTSecret, tokenString)
}

// HashPassword generates a bcrypt hash from a plaintext password
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a plaintext password with a bcrypt hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
