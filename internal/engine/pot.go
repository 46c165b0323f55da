package engine

import "sort"

// Pot is one pot layer. Eligible lists the unfolded players covering the
// layer's cap; eligibility sets shrink from the main pot outward.
type Pot struct {
	Amount   int64    `json:"amount"`
	Eligible []string `json:"eligible"`
}

// Pots derives the pot layering from player commitments. Each unique
// all-in commitment level, ascending, caps a layer; contributions above
// the highest cap form the final layer. Folded players' chips count
// toward layer amounts but never toward eligibility.
func (st *State) Pots() []Pot {
	levelSet := make(map[int64]bool)
	for _, p := range st.Players {
		if p.AllIn && p.Committed > 0 {
			levelSet[p.Committed] = true
		}
	}
	levels := make([]int64, 0, len(levelSet))
	for l := range levelSet {
		levels = append(levels, l)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })

	var pots []Pot
	prev := int64(0)
	for _, level := range levels {
		var pot Pot
		for _, p := range st.Players {
			contribution := min(p.Committed, level) - prev
			if contribution > 0 {
				pot.Amount += contribution
			}
			if !p.Folded && p.Committed >= level {
				pot.Eligible = append(pot.Eligible, p.ID)
			}
		}
		if pot.Amount > 0 {
			pots = append(pots, pot)
		}
		prev = level
	}

	var rest Pot
	for _, p := range st.Players {
		if p.Committed > prev {
			rest.Amount += p.Committed - prev
			if !p.Folded {
				rest.Eligible = append(rest.Eligible, p.ID)
			}
		}
	}
	if rest.Amount > 0 {
		if len(rest.Eligible) == 0 && len(pots) > 0 {
			// Every contributor above the last cap folded; the chips
			// belong to the previous layer's contest.
			pots[len(pots)-1].Amount += rest.Amount
		} else {
			pots = append(pots, rest)
		}
	}
	return pots
}

// PotTotal returns every chip committed to the hand so far
func (st *State) PotTotal() int64 {
	var total int64
	for _, p := range st.Players {
		total += p.Committed
	}
	return total
}

// SplitPot divides amount evenly among the winning positions, handing odd
// chips one each to the winners closest to the button clockwise.
func (st *State) SplitPot(amount int64, winners []int) map[int]int64 {
	if amount <= 0 || len(winners) == 0 {
		return nil
	}
	n := len(st.Players)
	dist := func(pos int) int {
		return ((pos-st.Button-1)%n + n) % n
	}
	ordered := append([]int(nil), winners...)
	sort.Slice(ordered, func(i, j int) bool { return dist(ordered[i]) < dist(ordered[j]) })

	share := amount / int64(len(ordered))
	odd := amount % int64(len(ordered))
	out := make(map[int]int64, len(ordered))
	for _, pos := range ordered {
		out[pos] += share
		if odd > 0 {
			out[pos]++
			odd--
		}
	}
	return out
}
