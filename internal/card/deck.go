package card

import "fmt"

// DeckSize is the number of cards in a standard deck
const DeckSize = 52

// NewDeck returns the canonical 52-card deck in fixed order:
// suits clubs through spades, ranks two through ace within each suit.
// Shuffle commitments hash this ordering as their baseline.
func NewDeck() []Card {
	cards := make([]Card, 0, DeckSize)
	for suit := Clubs; suit <= Spades; suit++ {
		for rank := Two; rank <= Ace; rank++ {
			cards = append(cards, Card{Suit: suit, Rank: rank})
		}
	}
	return cards
}

// ValidateDeck checks that cards is a permutation of the full 52-card set
func ValidateDeck(cards []Card) error {
	if len(cards) != DeckSize {
		return fmt.Errorf("deck has %d cards, want %d", len(cards), DeckSize)
	}
	var seen [DeckSize]bool
	for _, c := range cards {
		if !c.Valid() {
			return fmt.Errorf("deck contains invalid card %v", c)
		}
		idx := c.Index()
		if seen[idx] {
			return fmt.Errorf("deck contains duplicate card %s", c)
		}
		seen[idx] = true
	}
	return nil
}
