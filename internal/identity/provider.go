package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ErrUnknownToken is returned when a token resolves to no user.
var ErrUnknownToken = errors.New("unknown token")

// Provider resolves an opaque bearer token to an authenticated user id.
type Provider interface {
	UserForToken(ctx context.Context, token string) (uuid.UUID, error)
}

// StaticProvider is a token table seeded at startup. It stands in for the
// external identity service at the interface boundary.
type StaticProvider struct {
	mu     sync.RWMutex
	tokens map[string]uuid.UUID
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{tokens: make(map[string]uuid.UUID)}
}

// NewStaticProviderFromEnv parses AUTH_TOKENS in the form
// "token1:uuid1,token2:uuid2".
func NewStaticProviderFromEnv(raw string) (*StaticProvider, error) {
	p := NewStaticProvider()
	if raw == "" {
		return p, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		token, id, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			return nil, fmt.Errorf("malformed token pair %q", pair)
		}
		userID, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("malformed user id in token pair %q: %w", pair, err)
		}
		p.Register(token, userID)
	}
	return p, nil
}

// Register associates a token with a user id.
func (p *StaticProvider) Register(token string, userID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens[token] = userID
}

func (p *StaticProvider) UserForToken(_ context.Context, token string) (uuid.UUID, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	userID, ok := p.tokens[token]
	if !ok {
		return uuid.Nil, ErrUnknownToken
	}
	return userID, nil
}
