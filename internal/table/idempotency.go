package table

import "time"

// idemEntry records the outcome envelope of one processed client message.
type idemEntry struct {
	PlayerID string    `json:"player_id"`
	MsgID    string    `json:"msg_id"`
	SeenAt   time.Time `json:"seen_at"`
	Outcome  Envelope  `json:"-"`

	// Persisted form of the outcome for checkpoints.
	OutcomeType    string `json:"outcome_type"`
	OutcomeVersion uint64 `json:"outcome_version"`
}

// idemLog is a bounded per-player log of recently seen client message IDs
// and the outcome each produced. Duplicates replay the recorded outcome
// instead of re-applying the action. Entries expire after the retention
// window; each player keeps at most maxIdemPerPlayer entries.
type idemLog struct {
	retention time.Duration
	entries   map[string][]idemEntry // player id -> newest last
}

const maxIdemPerPlayer = 32

func newIdemLog(retention time.Duration) *idemLog {
	return &idemLog{
		retention: retention,
		entries:   make(map[string][]idemEntry),
	}
}

// Seen returns the recorded entry for (player, msgID), if any.
func (l *idemLog) Seen(playerID, msgID string) (idemEntry, bool) {
	if msgID == "" {
		return idemEntry{}, false
	}
	for _, e := range l.entries[playerID] {
		if e.MsgID == msgID {
			return e, true
		}
	}
	return idemEntry{}, false
}

// Record stores the outcome for (player, msgID) and prunes expired entries.
func (l *idemLog) Record(playerID, msgID string, now time.Time, outcome Envelope) {
	if msgID == "" {
		return
	}
	entry := idemEntry{
		PlayerID:       playerID,
		MsgID:          msgID,
		SeenAt:         now,
		Outcome:        outcome,
		OutcomeType:    outcome.Type,
		OutcomeVersion: outcome.Version,
	}
	kept := l.prune(l.entries[playerID], now)
	kept = append(kept, entry)
	if len(kept) > maxIdemPerPlayer {
		kept = kept[len(kept)-maxIdemPerPlayer:]
	}
	l.entries[playerID] = kept
}

func (l *idemLog) prune(entries []idemEntry, now time.Time) []idemEntry {
	cutoff := now.Add(-l.retention)
	kept := entries[:0]
	for _, e := range entries {
		if e.SeenAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

// Snapshot returns every live entry for checkpointing.
func (l *idemLog) Snapshot(now time.Time) []idemEntry {
	var out []idemEntry
	for id, entries := range l.entries {
		l.entries[id] = l.prune(entries, now)
		out = append(out, l.entries[id]...)
	}
	return out
}

// Restore reloads entries from a checkpoint. Outcome envelopes are not
// persisted; restored duplicates reply with a generic duplicate notice.
func (l *idemLog) Restore(entries []idemEntry) {
	l.entries = make(map[string][]idemEntry)
	for _, e := range entries {
		l.entries[e.PlayerID] = append(l.entries[e.PlayerID], e)
	}
}
