package card

import (
	"fmt"
)

// Suit represents a card suit
type Suit uint8

const (
	Clubs Suit = iota
	Diamonds
	Hearts
	Spades
)

// String returns the one-letter suit code used on the wire ("c", "d", "h", "s")
func (s Suit) String() string {
	switch s {
	case Clubs:
		return "c"
	case Diamonds:
		return "d"
	case Hearts:
		return "h"
	case Spades:
		return "s"
	default:
		return "?"
	}
}

// Rank represents a card rank. Aces are high (14); the wheel straight
// treats the ace as low during evaluation only.
type Rank uint8

const (
	Two Rank = iota + 2
	Three
	Four
	Five
	Six
	Seven
	Eight
	Nine
	Ten
	Jack
	Queen
	King
	Ace
)

// String returns the one-letter rank code ("2".."9", "T", "J", "Q", "K", "A")
func (r Rank) String() string {
	switch {
	case r >= Two && r <= Nine:
		return string(rune('0' + r))
	case r == Ten:
		return "T"
	case r == Jack:
		return "J"
	case r == Queen:
		return "Q"
	case r == King:
		return "K"
	case r == Ace:
		return "A"
	default:
		return "?"
	}
}

// Card is a single playing card. The zero value is not a valid card,
// which lets callers distinguish "no card dealt yet".
type Card struct {
	Suit Suit
	Rank Rank
}

// New creates a card from suit and rank
func New(suit Suit, rank Rank) Card {
	return Card{Suit: suit, Rank: rank}
}

// String returns the two-letter form used on the wire and in histories (e.g. "As", "Td")
func (c Card) String() string {
	return c.Rank.String() + c.Suit.String()
}

// Valid reports whether the card names a real rank and suit
func (c Card) Valid() bool {
	return c.Rank >= Two && c.Rank <= Ace && c.Suit <= Spades
}

// Index returns the card's position in the canonical deck (0-51)
func (c Card) Index() int {
	return int(c.Suit)*13 + int(c.Rank-Two)
}

// FromIndex returns the card at a canonical deck position
func FromIndex(i int) Card {
	return Card{Suit: Suit(i / 13), Rank: Rank(i%13) + Two}
}

// Parse parses the two-letter form ("As", "td") into a Card
func Parse(s string) (Card, error) {
	if len(s) != 2 {
		return Card{}, fmt.Errorf("invalid card %q", s)
	}

	var rank Rank
	switch s[0] {
	case '2', '3', '4', '5', '6', '7', '8', '9':
		rank = Rank(s[0] - '0')
	case 'T', 't':
		rank = Ten
	case 'J', 'j':
		rank = Jack
	case 'Q', 'q':
		rank = Queen
	case 'K', 'k':
		rank = King
	case 'A', 'a':
		rank = Ace
	default:
		return Card{}, fmt.Errorf("invalid rank in card %q", s)
	}

	var suit Suit
	switch s[1] {
	case 'c', 'C':
		suit = Clubs
	case 'd', 'D':
		suit = Diamonds
	case 'h', 'H':
		suit = Hearts
	case 's', 'S':
		suit = Spades
	default:
		return Card{}, fmt.Errorf("invalid suit in card %q", s)
	}

	return Card{Suit: suit, Rank: rank}, nil
}

// MustParse parses a card string and panics on failure. Test helper.
func MustParse(s string) Card {
	c, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseAll parses a space-free list of two-letter cards ("AsKd9c")
func ParseAll(s string) ([]Card, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("invalid card list %q", s)
	}
	cards := make([]Card, 0, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		c, err := Parse(s[i : i+2])
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, nil
}

// MarshalText implements encoding.TextMarshaler using the two-letter form
func (c Card) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid card %d/%d", c.Suit, c.Rank)
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *Card) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Strings renders a card slice into its two-letter forms
func Strings(cards []Card) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.String()
	}
	return out
}
