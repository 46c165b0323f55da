// Package wallet is the chip escrow collaborator. A seat buy-in reserves
// chips out of the player's balance into an escrow; leaving the table
// settles the escrow back with a delta for winnings or losses. Top-ups
// arrive through Credit from the payment rails, which are out of scope.
package wallet

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrInsufficientBalance means the player cannot cover the reserve
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")

	// ErrEscrowNotFound means the escrow id is unknown or already settled
	ErrEscrowNotFound = errors.New("wallet: escrow not found")
)

// Wallet is the contract the table actor consumes
type Wallet interface {
	// Reserve moves amount from the player's balance into a new escrow.
	Reserve(ctx context.Context, playerID string, amount int64) (escrowID string, err error)

	// Settle closes an escrow, returning amount+delta to the balance.
	// Delta is the player's net result against the reserved amount.
	Settle(ctx context.Context, escrowID string, delta int64) error

	// Release closes an escrow unchanged, returning the full reservation.
	Release(ctx context.Context, escrowID string) error
}

// IDSource mints escrow identifiers
type IDSource func() string

// Memory is an in-memory wallet for tests and single-node dev servers
type Memory struct {
	newID IDSource

	mu       sync.Mutex
	balances map[string]int64
	escrows  map[string]escrow
}

type escrow struct {
	playerID string
	amount   int64
}

// NewMemory returns an empty in-memory wallet
func NewMemory(newID IDSource) *Memory {
	return &Memory{
		newID:    newID,
		balances: make(map[string]int64),
		escrows:  make(map[string]escrow),
	}
}

// Credit adds chips to a player's balance
func (w *Memory) Credit(ctx context.Context, playerID string, amount int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[playerID] += amount
	return nil
}

// Balance returns the player's available balance
func (w *Memory) Balance(ctx context.Context, playerID string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[playerID], nil
}

func (w *Memory) Reserve(ctx context.Context, playerID string, amount int64) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.balances[playerID] < amount {
		return "", ErrInsufficientBalance
	}
	id := w.newID()
	w.balances[playerID] -= amount
	w.escrows[id] = escrow{playerID: playerID, amount: amount}
	return id, nil
}

func (w *Memory) Settle(ctx context.Context, escrowID string, delta int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	e, ok := w.escrows[escrowID]
	if !ok {
		return ErrEscrowNotFound
	}
	delete(w.escrows, escrowID)
	w.balances[e.playerID] += e.amount + delta
	return nil
}

func (w *Memory) Release(ctx context.Context, escrowID string) error {
	return w.Settle(ctx, escrowID, 0)
}

// Escrowed returns the total amount held in open escrows. Chip
// conservation checks in tests sum this with balances.
func (w *Memory) Escrowed(ctx context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total int64
	for _, e := range w.escrows {
		total += e.amount
	}
	return total, nil
}
