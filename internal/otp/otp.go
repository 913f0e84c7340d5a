// Package otp issues and verifies the one-time login codes. Codes are
// short-lived, bcrypt-hashed at rest, burned on first successful
// verification, and issued through a per-phone rate limiter. The store
// is injected so tests and single-node deployments can run in memory
// while production keeps codes in Redis.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

var (
	// ErrNotFound means no live code exists for the phone.
	ErrNotFound = errors.New("otp: code not found")
	// ErrCodeMismatch means the presented code does not match.
	ErrCodeMismatch = errors.New("otp: code mismatch")
	// ErrRateLimited means the phone asked for codes too quickly.
	ErrRateLimited = errors.New("otp: rate limited")
)

// CodeStore persists hashed codes until they expire or are consumed.
type CodeStore interface {
	SaveCode(ctx context.Context, phone, hash string, ttl time.Duration) error
	GetCode(ctx context.Context, phone string) (string, error)
	DeleteCode(ctx context.Context, phone string) error
}

type Service struct {
	store    CodeStore
	ttl      time.Duration
	codeLen  int
	limiters limiterPool
}

func NewService(store CodeStore, ttl time.Duration, codeLen int, every time.Duration, burst int) *Service {
	if codeLen <= 0 {
		codeLen = 4
	}
	return &Service{
		store:    store,
		ttl:      ttl,
		codeLen:  codeLen,
		limiters: limiterPool{every: every, burst: burst},
	}
}

// Issue generates a fresh code for the phone, stores its hash with the
// configured TTL, and returns the plain code for delivery. A phone over
// its send budget gets ErrRateLimited before any state changes.
func (s *Service) Issue(ctx context.Context, phone string) (string, error) {
	if !s.limiters.allow(phone) {
		return "", ErrRateLimited
	}

	code, err := randomCode(s.codeLen)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash code: %w", err)
	}
	if err := s.store.SaveCode(ctx, phone, string(hash), s.ttl); err != nil {
		return "", fmt.Errorf("save code: %w", err)
	}
	return code, nil
}

// Verify checks the presented code and burns it on success. Expired or
// missing codes return ErrNotFound, wrong codes ErrCodeMismatch.
func (s *Service) Verify(ctx context.Context, phone, code string) error {
	hash, err := s.store.GetCode(ctx, phone)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)); err != nil {
		return ErrCodeMismatch
	}
	if err := s.store.DeleteCode(ctx, phone); err != nil {
		return fmt.Errorf("burn code: %w", err)
	}
	return nil
}

func randomCode(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}

// limiterPool hands out one token-bucket limiter per phone.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	every time.Duration
	burst int
}

func (p *limiterPool) allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	l, ok := p.m[key]
	if !ok {
		every := p.every
		if every <= 0 {
			every = 30 * time.Second
		}
		burst := p.burst
		if burst <= 0 {
			burst = 3
		}
		l = rate.NewLimiter(rate.Every(every), burst)
		p.m[key] = l
	}
	return l.Allow()
}
