package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"poolflow/pool"
)

var (
	// ErrInvalidCredentials signals wrong address or passphrase.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrWeakPassphrase signals passphrase doesn't meet requirements.
	ErrWeakPassphrase = errors.New("auth: passphrase must be at least 8 characters")
)

// DefaultTokenTTL is how long issued tokens stay valid.
const DefaultTokenTTL = 24 * time.Hour

// Reservations reports addresses nobody may claim, such as pool custody.
type Reservations interface {
	IsReserved(ctx context.Context, address string) (bool, error)
}

// Service handles authentication business logic.
type Service struct {
	repo      Repository
	reserved  Reservations
	jwtSecret []byte
	ttl       time.Duration
	now       func() time.Time
}

// LoginResult bundles the token and the address it was issued for.
type LoginResult struct {
	Token     string
	Address   string
	ExpiresAt time.Time
}

// NewService creates a new authentication service.
func NewService(repo Repository, reserved Reservations, jwtSecret string) *Service {
	return &Service{
		repo:      repo,
		reserved:  reserved,
		jwtSecret: []byte(jwtSecret),
		ttl:       DefaultTokenTTL,
		now:       time.Now,
	}
}

// WithTokenTTL overrides the token lifetime.
func (s *Service) WithTokenTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// WithClock overrides the clock used to stamp tokens.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register claims an address with a passphrase. Pool custody addresses
// cannot be claimed.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Credential, error) {
	if len(req.Passphrase) < 8 {
		return nil, ErrWeakPassphrase
	}

	address, err := pool.ParseAddress(req.Address)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	reserved, err := s.reserved.IsReserved(ctx, address.String())
	if err != nil {
		return nil, fmt.Errorf("auth: check address: %w", err)
	}
	if reserved {
		return nil, fmt.Errorf("auth: %w", pool.ErrReservedAddress)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Passphrase), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth: hash passphrase: %w", err)
	}

	cred, err := s.repo.CreateCredential(ctx, address.String(), string(hash))
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// Login authenticates an address and returns a JWT token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	address, err := pool.ParseAddress(req.Address)
	if err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	cred, err := s.repo.GetCredential(ctx, address.String())
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cred.PassphraseHash), []byte(req.Passphrase)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	token, expires, err := s.generateToken(cred.Address)
	if err != nil {
		return LoginResult{}, fmt.Errorf("auth: generate token: %w", err)
	}

	return LoginResult{
		Token:     token,
		Address:   cred.Address,
		ExpiresAt: expires,
	}, nil
}

// VerifyToken validates a JWT token and returns the address it was issued for.
func (s *Service) VerifyToken(tokenString string) (pool.Address, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	}, jwt.WithTimeFunc(s.now))

	if err != nil {
		return "", fmt.Errorf("auth: parse token: %w", err)
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		raw, ok := claims["address"].(string)
		if !ok {
			return "", fmt.Errorf("auth: invalid address in token")
		}
		address, err := pool.ParseAddress(raw)
		if err != nil {
			return "", fmt.Errorf("auth: %w", err)
		}
		return address, nil
	}

	return "", fmt.Errorf("auth: invalid token")
}

func (s *Service) generateToken(address string) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)
	claims := jwt.MapClaims{
		"address": address,
		"exp":     expires.Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expires, nil
}
