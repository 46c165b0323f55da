package table

// replayRing keeps the most recent versioned envelopes so reconnecting
// clients can catch up from their last seen version without a full
// snapshot. Older gaps fall back to a snapshot.
type replayRing struct {
	buf  []Envelope
	next int
	full bool
}

func newReplayRing(capacity int) *replayRing {
	return &replayRing{buf: make([]Envelope, capacity)}
}

func (r *replayRing) push(env Envelope) {
	if env.Version == 0 {
		return
	}
	r.buf[r.next] = env
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// oldest returns the smallest version retained, or 0 when empty.
func (r *replayRing) oldest() uint64 {
	if !r.full {
		if r.next == 0 {
			return 0
		}
		return r.buf[0].Version
	}
	return r.buf[r.next].Version
}

// since returns the envelopes after version v that the given player may
// see, in emission order. ok is false when v predates the ring and the
// caller must send a full snapshot instead.
func (r *replayRing) since(v uint64, playerID string) (envs []Envelope, ok bool) {
	oldest := r.oldest()
	if oldest == 0 {
		// Nothing buffered; a client at the current version needs nothing.
		return nil, true
	}
	if v+1 < oldest {
		return nil, false
	}
	n := len(r.buf)
	start := 0
	if r.full {
		start = r.next
	}
	count := r.next - start
	if r.full {
		count = n
	}
	for i := 0; i < count; i++ {
		env := r.buf[(start+i)%n]
		if env.Version <= v {
			continue
		}
		if !visibleTo(env, playerID) {
			continue
		}
		envs = append(envs, env)
	}
	return envs, true
}

// visibleTo applies the envelope's policy for a single recipient.
func visibleTo(env Envelope, playerID string) bool {
	switch env.Policy {
	case ToAllAtTable, ToSpectators:
		return true
	case ToPlayer:
		return env.To == playerID
	case ToAllExcept:
		return env.To != playerID
	default:
		return false
	}
}
