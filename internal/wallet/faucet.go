package wallet

import (
	"context"
	"errors"
	"sync"
)

// Crediter is any wallet that can top a balance up.
type Crediter interface {
	Wallet
	Credit(ctx context.Context, playerID string, amount int64) error
}

// Faucet wraps a wallet for dev servers. The first reserve that fails
// for lack of funds credits the grant and retries, once per player, so
// fresh players can sit down without payment rails.
type Faucet struct {
	inner Crediter
	grant int64

	mu      sync.Mutex
	granted map[string]bool
}

func NewFaucet(inner Crediter, grant int64) *Faucet {
	return &Faucet{inner: inner, grant: grant, granted: make(map[string]bool)}
}

func (f *Faucet) Reserve(ctx context.Context, playerID string, amount int64) (string, error) {
	id, err := f.inner.Reserve(ctx, playerID, amount)
	if !errors.Is(err, ErrInsufficientBalance) {
		return id, err
	}

	f.mu.Lock()
	already := f.granted[playerID]
	if !already {
		f.granted[playerID] = true
	}
	f.mu.Unlock()
	if already {
		return "", err
	}

	if err := f.inner.Credit(ctx, playerID, f.grant); err != nil {
		return "", err
	}
	return f.inner.Reserve(ctx, playerID, amount)
}

func (f *Faucet) Settle(ctx context.Context, escrowID string, delta int64) error {
	return f.inner.Settle(ctx, escrowID, delta)
}

func (f *Faucet) Release(ctx context.Context, escrowID string) error {
	return f.inner.Release(ctx, escrowID)
}
