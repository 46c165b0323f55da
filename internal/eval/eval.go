// Package eval ranks 5-7 card poker hands into totally ordered scores.
package eval

import (
	"fmt"
	"math/bits"

	"github.com/feltpoker/felt/internal/card"
)

// Category enumerates hand categories from weakest to strongest
type Category uint8

const (
	HighCard Category = iota
	Pair
	TwoPair
	ThreeOfAKind
	Straight
	Flush
	FullHouse
	FourOfAKind
	StraightFlush
)

// String returns a human-readable category name
func (c Category) String() string {
	switch c {
	case HighCard:
		return "High Card"
	case Pair:
		return "Pair"
	case TwoPair:
		return "Two Pair"
	case ThreeOfAKind:
		return "Three of a Kind"
	case Straight:
		return "Straight"
	case Flush:
		return "Flush"
	case FullHouse:
		return "Full House"
	case FourOfAKind:
		return "Four of a Kind"
	case StraightFlush:
		return "Straight Flush"
	default:
		return "Unknown"
	}
}

// Score is a totally ordered hand strength. Higher scores beat lower ones.
// Bits 23-20 hold the category; bits 19-0 hold up to five 4-bit rank
// values in descending significance, so ties break by kicker inside the
// integer comparison.
type Score uint32

// Category extracts the hand category from a score
func (s Score) Category() Category {
	return Category(s >> 20)
}

// String describes the score by its category
func (s Score) String() string {
	return s.Category().String()
}

func pack(cat Category, ranks ...card.Rank) Score {
	s := Score(cat) << 20
	shift := 16
	for _, r := range ranks {
		s |= Score(r) << shift
		shift -= 4
	}
	return s
}

// The straight windows, A-high down to the wheel. Bit i is rank i+2.
const (
	broadwayMask = 0x1F00 // A K Q J T
	wheelMask    = 0x100F // A 5 4 3 2
)

// straightHigh returns the high rank of a straight in the rank mask, or 0
func straightHigh(ranks uint16) card.Rank {
	window := uint16(broadwayMask)
	for high := card.Ace; high >= card.Six; high-- {
		if ranks&window == window {
			return high
		}
		window >>= 1
	}
	if ranks&wheelMask == wheelMask {
		return card.Five
	}
	return 0
}

// topRanks returns the n highest ranks set in the mask, descending
func topRanks(mask uint16, n int) []card.Rank {
	out := make([]card.Rank, 0, n)
	for bit := 12; bit >= 0 && len(out) < n; bit-- {
		if mask&(1<<bit) != 0 {
			out = append(out, card.Rank(bit)+card.Two)
		}
	}
	return out
}

// top5Mask keeps only the five highest bits of a suit mask
func top5Mask(mask uint16) uint16 {
	for bits.OnesCount16(mask) > 5 {
		mask &= mask - 1 // clear lowest set bit
	}
	return mask
}

// Evaluate scores the best 5-card hand available in 5 to 7 cards.
// It is pure and total over legal inputs; duplicate cards are an error.
func Evaluate(cards []card.Card) (Score, error) {
	if len(cards) < 5 || len(cards) > 7 {
		return 0, fmt.Errorf("evaluate %d cards, want 5-7", len(cards))
	}

	var suits [4]uint16
	var seen [card.DeckSize]bool
	for _, c := range cards {
		if !c.Valid() {
			return 0, fmt.Errorf("evaluate invalid card %v", c)
		}
		if seen[c.Index()] {
			return 0, fmt.Errorf("evaluate duplicate card %s", c)
		}
		seen[c.Index()] = true
		suits[c.Suit] |= 1 << (c.Rank - card.Two)
	}
	ranks := suits[0] | suits[1] | suits[2] | suits[3]

	// Flush suit, if any. With at most 7 cards a flush excludes quads
	// and full houses, so the category checks below stay in strength order.
	flushSuit := -1
	for i, sm := range suits {
		if bits.OnesCount16(sm) >= 5 {
			flushSuit = i
			break
		}
	}

	if flushSuit >= 0 {
		if high := straightHigh(suits[flushSuit]); high != 0 {
			return pack(StraightFlush, high), nil
		}
	}

	// Rank multiplicities
	var counts [13]int
	for _, sm := range suits {
		for bit := 0; bit < 13; bit++ {
			if sm&(1<<bit) != 0 {
				counts[bit]++
			}
		}
	}

	var quad, trip, secondTrip, pairHi, pairLo card.Rank
	for bit := 12; bit >= 0; bit-- {
		r := card.Rank(bit) + card.Two
		switch counts[bit] {
		case 4:
			quad = r
		case 3:
			if trip == 0 {
				trip = r
			} else if secondTrip == 0 {
				secondTrip = r
			}
		case 2:
			if pairHi == 0 {
				pairHi = r
			} else if pairLo == 0 {
				pairLo = r
			}
		}
	}

	if quad != 0 {
		kickers := topRanks(ranks&^rankBit(quad), 1)
		return pack(FourOfAKind, quad, kickers[0]), nil
	}

	if trip != 0 && (pairHi != 0 || secondTrip != 0) {
		pair := pairHi
		if secondTrip > pair {
			pair = secondTrip
		}
		return pack(FullHouse, trip, pair), nil
	}

	if flushSuit >= 0 {
		return pack(Flush, topRanks(top5Mask(suits[flushSuit]), 5)...), nil
	}

	if high := straightHigh(ranks); high != 0 {
		return pack(Straight, high), nil
	}

	if trip != 0 {
		ks := topRanks(ranks&^rankBit(trip), 2)
		return pack(ThreeOfAKind, trip, ks[0], ks[1]), nil
	}

	if pairHi != 0 && pairLo != 0 {
		k := topRanks(ranks&^(rankBit(pairHi)|rankBit(pairLo)), 1)
		return pack(TwoPair, pairHi, pairLo, k[0]), nil
	}

	if pairHi != 0 {
		ks := topRanks(ranks&^rankBit(pairHi), 3)
		return pack(Pair, pairHi, ks[0], ks[1], ks[2]), nil
	}

	return pack(HighCard, topRanks(ranks, 5)...), nil
}

func rankBit(r card.Rank) uint16 {
	return 1 << (r - card.Two)
}

// Best5 returns the 5-card subset realizing the hand's score, used when
// revealing winning hands at showdown. For 5-card input it returns the
// input itself.
func Best5(cards []card.Card) ([]card.Card, Score, error) {
	total, err := Evaluate(cards)
	if err != nil {
		return nil, 0, err
	}
	if len(cards) == 5 {
		out := make([]card.Card, 5)
		copy(out, cards)
		return out, total, nil
	}

	// Enumerate 5-card subsets and keep the first that matches the
	// 7-card score. At most C(7,5)=21 evaluations.
	n := len(cards)
	pick := make([]card.Card, 5)
	var best []card.Card
	var bestScore Score
	for a := 0; a < n-4; a++ {
		for b := a + 1; b < n-3; b++ {
			for c := b + 1; c < n-2; c++ {
				for d := c + 1; d < n-1; d++ {
					for e := d + 1; e < n; e++ {
						pick[0], pick[1], pick[2], pick[3], pick[4] = cards[a], cards[b], cards[c], cards[d], cards[e]
						s, err := Evaluate(pick)
						if err != nil {
							return nil, 0, err
						}
						if s > bestScore || best == nil {
							bestScore = s
							best = []card.Card{pick[0], pick[1], pick[2], pick[3], pick[4]}
						}
					}
				}
			}
		}
	}
	if bestScore != total {
		return nil, 0, fmt.Errorf("best-5 subset score %v disagrees with full evaluation %v", bestScore, total)
	}
	return best, total, nil
}
