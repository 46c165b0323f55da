package eval

import (
	"testing"

	"github.com/feltpoker/felt/internal/card"
)

func mustCards(t *testing.T, s string) []card.Card {
	t.Helper()
	cards, err := card.ParseAll(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return cards
}

func score(t *testing.T, s string) Score {
	t.Helper()
	sc, err := Evaluate(mustCards(t, s))
	if err != nil {
		t.Fatalf("evaluate %q: %v", s, err)
	}
	return sc
}

func TestCategories(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		cards string
		want  Category
	}{
		{"royal flush", "AsKsQsJsTs", StraightFlush},
		{"steel wheel", "As2s3s4s5s", StraightFlush},
		{"four of a kind", "9c9d9h9s2c", FourOfAKind},
		{"full house", "KcKdKh2s2c", FullHouse},
		{"flush", "Ah9h7h4h2h", Flush},
		{"broadway straight", "AcKdQhJsTc", Straight},
		{"wheel", "Ac2d3h4s5c", Straight},
		{"trips", "7c7d7h2sKc", ThreeOfAKind},
		{"two pair", "JcJd4h4sKc", TwoPair},
		{"one pair", "QcQd9h5s2c", Pair},
		{"high card", "AcJd9h5s2c", HighCard},
		{"seven cards full house", "KcKdKh2s2c9h4d", FullHouse},
		{"seven cards flush over straight", "2h4h6h8hTh9cTd", Flush},
		{"two trips make full house", "8c8d8h3s3c3d4h", FullHouse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := score(t, tt.cards)
			if got.Category() != tt.want {
				t.Errorf("category = %v, want %v", got.Category(), tt.want)
			}
		})
	}
}

func TestOrderingWithinCategory(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		better string
		worse  string
	}{
		{"higher pair wins", "QcQd9h5s2c", "JcJd9h5s2c"},
		{"kicker breaks pair tie", "QcQdAh5s2c", "QhQs9h5s2c"},
		{"second kicker breaks tie", "QcQdAhKs2c", "QhQsAd5s2c"},
		{"higher straight wins", "9cTdJhQsKc", "8c9dThJsQc"},
		{"broadway beats wheel", "AcKdQhJsTc", "Ad2d3h4s5c"},
		{"wheel is lowest straight", "2c3d4h5s6c", "Ad2d3h4s5c"},
		{"flush kickers compared in order", "Ah9h7h4h3h", "Ah9h7h4h2h"},
		{"higher quads win", "TcTdThTs2c", "9c9d9h9sAc"},
		{"boat trip rank dominates", "3c3d3hAsAc", "2c2d2hKsKc"},
		{"two pair high pair first", "AcAd2h2sKc", "KhKdQhQs2d"},
		{"straight flush beats quads", "5h6h7h8h9h", "AcAdAhAsKc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := score(t, tt.better)
			w := score(t, tt.worse)
			if b <= w {
				t.Errorf("score(%q)=%#x should beat score(%q)=%#x", tt.better, b, tt.worse, w)
			}
		})
	}
}

func TestEqualHandsTie(t *testing.T) {
	t.Parallel()
	// Same ranks, different suits
	a := score(t, "AcKd9h5s2c")
	b := score(t, "AdKh9s5c2d")
	if a != b {
		t.Errorf("suit-only differences must tie: %#x vs %#x", a, b)
	}

	// Board plays for both
	a = score(t, "2c3dAhKhQhJhTh")
	b = score(t, "AhKhQhJhTh")
	if a != b {
		t.Errorf("royal flush ties itself: %#x vs %#x", a, b)
	}
}

func TestSevenCardPicksBest(t *testing.T) {
	t.Parallel()
	// Hole 2c7d on a board that makes a straight with only the 7
	seven := score(t, "2c7d5h6s8d9cKh")
	if seven.Category() != Straight {
		t.Errorf("category = %v, want Straight", seven.Category())
	}

	// Pocket pair plus board pair picks two pair with best kicker
	s := score(t, "QcQd4h4s9cKd2h")
	if s.Category() != TwoPair {
		t.Fatalf("category = %v, want TwoPair", s.Category())
	}
	want := score(t, "QcQd4h4sKd")
	if s != want {
		t.Errorf("7-card two pair = %#x, want %#x (king kicker)", s, want)
	}
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	t.Parallel()
	if _, err := Evaluate(mustCards(t, "AcKd9h5s")); err == nil {
		t.Error("expected error for 4 cards")
	}
	if _, err := Evaluate(mustCards(t, "AcKd9h5s2c3d4h6s")); err == nil {
		t.Error("expected error for 8 cards")
	}
	if _, err := Evaluate(mustCards(t, "AcAcKd9h5s")); err == nil {
		t.Error("expected error for duplicate card")
	}
	bad := mustCards(t, "AcKd9h5s2c")
	bad[2] = card.Card{}
	if _, err := Evaluate(bad); err == nil {
		t.Error("expected error for invalid card")
	}
}

func TestBest5MatchesEvaluate(t *testing.T) {
	t.Parallel()
	hands := []string{
		"KcKdKh2s2c9h4d",
		"2h4h6h8hTh9cTd",
		"Ac2d3h4s5c9dKh",
		"AcKdQhJsTc2d2h",
		"QcQd4h4s9cKd2h",
		"AcJd9h5s2c7h8d",
	}
	for _, h := range hands {
		cards := mustCards(t, h)
		best, bs, err := Best5(cards)
		if err != nil {
			t.Fatalf("Best5(%q): %v", h, err)
		}
		if len(best) != 5 {
			t.Fatalf("Best5(%q) returned %d cards", h, len(best))
		}
		full, err := Evaluate(cards)
		if err != nil {
			t.Fatal(err)
		}
		if bs != full {
			t.Errorf("Best5 score %#x != Evaluate score %#x for %q", bs, full, h)
		}
		direct, err := Evaluate(best)
		if err != nil {
			t.Fatal(err)
		}
		if direct != full {
			t.Errorf("best subset of %q scores %#x, full hand %#x", h, direct, full)
		}
	}
}

func TestWheelStraightFlushIsLowestStraightFlush(t *testing.T) {
	t.Parallel()
	wheelSF := score(t, "As2s3s4s5s")
	sixHighSF := score(t, "2s3s4s5s6s")
	if wheelSF >= sixHighSF {
		t.Errorf("steel wheel %#x should lose to six-high straight flush %#x", wheelSF, sixHighSF)
	}
	if wheelSF.Category() != StraightFlush {
		t.Errorf("steel wheel category = %v", wheelSF.Category())
	}
}
