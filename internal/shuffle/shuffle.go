// Package shuffle implements the committed deck used for every hand.
//
// The dealer commits to the canonical deck before shuffling
// (commitment = SHA-256 over the canonical order and a nonce), shuffles
// with a deterministic Fisher-Yates permutation driven by a fresh
// cryptographic seed, and records a proof binding the pre-shuffle order,
// the post-shuffle order, and the seed. Anyone holding the revealed seed
// can re-run the permutation and check both hashes.
package shuffle

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	mrand "math/rand/v2"

	"github.com/feltpoker/felt/internal/card"
)

var (
	// ErrInvalidCommitment means the commitment hash does not match the
	// canonical deck and nonce. Fatal for the hand.
	ErrInvalidCommitment = errors.New("shuffle: invalid deck commitment")

	// ErrInvalidShuffleProof means re-running the permutation from the
	// recorded seed does not reproduce the shuffled order, or the proof
	// hash does not match. Fatal for the hand.
	ErrInvalidShuffleProof = errors.New("shuffle: invalid shuffle proof")

	// ErrDeckExhausted means a draw or burn was attempted past the last card
	ErrDeckExhausted = errors.New("shuffle: deck exhausted")
)

// Domain separation labels for the two hashes
const (
	commitLabel = "felt/deck-commit/v1"
	proofLabel  = "felt/shuffle-proof/v1"
)

// SeedSize is the byte length of a shuffle seed
const SeedSize = 32

// NonceSize is the byte length of a commitment nonce
const NonceSize = 16

// Seed drives the deterministic shuffle permutation. Seeds come from a
// cryptographic RNG and are never reused across hands.
type Seed [SeedSize]byte

// NewSeed reads a fresh seed from rng (crypto/rand.Reader in production)
func NewSeed(rng io.Reader) (Seed, error) {
	var s Seed
	if _, err := io.ReadFull(rng, s[:]); err != nil {
		return Seed{}, fmt.Errorf("read shuffle seed: %w", err)
	}
	return s, nil
}

// CommittedDeck is the canonical deck plus the published commitment
type CommittedDeck struct {
	Cards      []card.Card
	Nonce      []byte
	Commitment []byte
}

// Commit builds a committed deck with a fresh nonce read from rng
func Commit(rng io.Reader) (*CommittedDeck, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rng, nonce); err != nil {
		return nil, fmt.Errorf("read commitment nonce: %w", err)
	}
	return commitWithNonce(nonce), nil
}

func commitWithNonce(nonce []byte) *CommittedDeck {
	cards := card.NewDeck()
	return &CommittedDeck{
		Cards:      cards,
		Nonce:      nonce,
		Commitment: commitmentHash(cards, nonce),
	}
}

func commitmentHash(cards []card.Card, nonce []byte) []byte {
	h := sha256.New()
	h.Write([]byte(commitLabel))
	h.Write(cardBytes(cards))
	h.Write(nonce)
	return h.Sum(nil)
}

func proofHash(canonical, shuffled []card.Card, seed Seed) []byte {
	h := sha256.New()
	h.Write([]byte(proofLabel))
	h.Write(cardBytes(canonical))
	h.Write(cardBytes(shuffled))
	h.Write(seed[:])
	return h.Sum(nil)
}

func cardBytes(cards []card.Card) []byte {
	b := make([]byte, len(cards))
	for i, c := range cards {
		b[i] = byte(c.Index())
	}
	return b
}

// permute runs the deterministic Fisher-Yates keyed by seed
func permute(canonical []card.Card, seed Seed) []card.Card {
	shuffled := make([]card.Card, len(canonical))
	copy(shuffled, canonical)
	rng := mrand.New(mrand.NewChaCha8(seed))
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled
}

// Shuffle permutes the committed deck with the given seed and records the proof
func (cd *CommittedDeck) Shuffle(seed Seed) *ShuffledDeck {
	shuffled := permute(cd.Cards, seed)
	return &ShuffledDeck{
		Canonical:  cd.Cards,
		Nonce:      cd.Nonce,
		Commitment: cd.Commitment,
		Shuffled:   shuffled,
		Seed:       seed,
		Proof:      proofHash(cd.Cards, shuffled, seed),
	}
}

// ShuffledDeck is a shuffled deck with its commitment, seed, and proof,
// plus the draw cursor for dealing.
type ShuffledDeck struct {
	Canonical  []card.Card
	Nonce      []byte
	Commitment []byte
	Shuffled   []card.Card
	Seed       Seed
	Proof      []byte

	cursor int
	burns  []int
}

// Verify re-runs the permutation from the recorded seed and recomputes
// both hashes. Any mismatch is an integrity failure for the hand.
func (sd *ShuffledDeck) Verify() error {
	if err := card.ValidateDeck(sd.Canonical); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommitment, err)
	}
	if !bytes.Equal(sd.Commitment, commitmentHash(sd.Canonical, sd.Nonce)) {
		return ErrInvalidCommitment
	}
	replayed := permute(sd.Canonical, sd.Seed)
	if len(replayed) != len(sd.Shuffled) {
		return ErrInvalidShuffleProof
	}
	for i := range replayed {
		if replayed[i] != sd.Shuffled[i] {
			return ErrInvalidShuffleProof
		}
	}
	if !bytes.Equal(sd.Proof, proofHash(sd.Canonical, sd.Shuffled, sd.Seed)) {
		return ErrInvalidShuffleProof
	}
	return nil
}

// Draw deals the next card
func (sd *ShuffledDeck) Draw() (card.Card, error) {
	if sd.cursor >= len(sd.Shuffled) {
		return card.Card{}, ErrDeckExhausted
	}
	c := sd.Shuffled[sd.cursor]
	sd.cursor++
	return c, nil
}

// Burn discards the next card face down. Burned cards never re-enter play.
func (sd *ShuffledDeck) Burn() error {
	if sd.cursor >= len(sd.Shuffled) {
		return ErrDeckExhausted
	}
	sd.burns = append(sd.burns, sd.cursor)
	sd.cursor++
	return nil
}

// Remaining returns the number of undealt cards
func (sd *ShuffledDeck) Remaining() int {
	return len(sd.Shuffled) - sd.cursor
}

// Burned returns the cards discarded by Burn, in burn order
func (sd *ShuffledDeck) Burned() []card.Card {
	out := make([]card.Card, len(sd.burns))
	for i, pos := range sd.burns {
		out[i] = sd.Shuffled[pos]
	}
	return out
}

// Drawn returns every card that has left the deck, burns included.
// Card-uniqueness audits use this together with Remaining.
func (sd *ShuffledDeck) Drawn() int {
	return sd.cursor
}

// Snapshot captures everything needed to rebuild the deck mid-hand.
// The card orders are derivable from nonce and seed, so checkpoints
// store only these fields.
type Snapshot struct {
	Nonce    []byte `json:"nonce"`
	Seed     []byte `json:"seed"`
	Consumed int    `json:"consumed"`
	Burns    []int  `json:"burns,omitempty"`
}

// Snapshot returns the deck's checkpoint form
func (sd *ShuffledDeck) Snapshot() Snapshot {
	burns := make([]int, len(sd.burns))
	copy(burns, sd.burns)
	seed := make([]byte, SeedSize)
	copy(seed, sd.Seed[:])
	nonce := make([]byte, len(sd.Nonce))
	copy(nonce, sd.Nonce)
	return Snapshot{Nonce: nonce, Seed: seed, Consumed: sd.cursor, Burns: burns}
}

// Restore rebuilds a deck from its snapshot by recommitting with the
// recorded nonce, re-running the shuffle, and replaying consumption.
func Restore(snap Snapshot) (*ShuffledDeck, error) {
	if len(snap.Seed) != SeedSize {
		return nil, fmt.Errorf("restore deck: seed is %d bytes, want %d", len(snap.Seed), SeedSize)
	}
	if len(snap.Nonce) != NonceSize {
		return nil, fmt.Errorf("restore deck: nonce is %d bytes, want %d", len(snap.Nonce), NonceSize)
	}
	if snap.Consumed < 0 || snap.Consumed > card.DeckSize {
		return nil, fmt.Errorf("restore deck: consumed %d out of range", snap.Consumed)
	}
	var seed Seed
	copy(seed[:], snap.Seed)
	sd := commitWithNonce(snap.Nonce).Shuffle(seed)
	if err := sd.Verify(); err != nil {
		return nil, err
	}
	burnSet := make(map[int]bool, len(snap.Burns))
	for _, pos := range snap.Burns {
		if pos < 0 || pos >= snap.Consumed {
			return nil, fmt.Errorf("restore deck: burn position %d out of range", pos)
		}
		burnSet[pos] = true
	}
	for i := 0; i < snap.Consumed; i++ {
		if burnSet[i] {
			if err := sd.Burn(); err != nil {
				return nil, err
			}
		} else {
			if _, err := sd.Draw(); err != nil {
				return nil, err
			}
		}
	}
	return sd, nil
}
