package table

import (
	"fmt"
	"time"
)

// ButtonRule selects how the dealer button advances between hands.
type ButtonRule string

const (
	// ButtonMoving advances the button to the next occupied seat.
	ButtonMoving ButtonRule = "moving"
	// ButtonDead advances the button exactly one seat, occupied or not.
	ButtonDead ButtonRule = "dead"
)

// TimeoutPolicy selects what an action timeout does to the pending player.
type TimeoutPolicy string

const (
	TimeoutFold      TimeoutPolicy = "fold"
	TimeoutCheckFold TimeoutPolicy = "check_fold"
)

// Config is the immutable configuration of one table. Validate before use;
// the registry rejects invalid configs at creation time.
type Config struct {
	Name       string `json:"name" hcl:"name,optional"`
	SmallBlind int64  `json:"small_blind" hcl:"small_blind,optional"`
	BigBlind   int64  `json:"big_blind" hcl:"big_blind,optional"`
	MinBuyIn   int64  `json:"min_buy_in" hcl:"min_buy_in,optional"`
	MaxBuyIn   int64  `json:"max_buy_in" hcl:"max_buy_in,optional"`
	MaxSeats   int    `json:"max_seats" hcl:"max_seats,optional"`

	ActionTimeout   time.Duration `json:"action_timeout"`
	DisconnectGrace time.Duration `json:"disconnect_grace"`
	SettleDelay     time.Duration `json:"settle_delay"`
	IdleAfter       time.Duration `json:"idle_after"`

	ButtonRule    ButtonRule    `json:"button_rule"`
	TimeoutPolicy TimeoutPolicy `json:"timeout_policy"`

	// Unseat instead of sitting out when the disconnect grace expires.
	AutoRemoveOnGraceExpiry bool `json:"auto_remove_on_grace_expiry"`

	CheckpointInterval time.Duration `json:"checkpoint_interval"`
}

// DefaultConfig returns a playable 10/20 six-max table configuration.
func DefaultConfig() Config {
	return Config{
		Name:               "table",
		SmallBlind:         10,
		BigBlind:           20,
		MinBuyIn:           400,
		MaxBuyIn:           2000,
		MaxSeats:           6,
		ActionTimeout:      30 * time.Second,
		DisconnectGrace:    15 * time.Second,
		SettleDelay:        3 * time.Second,
		IdleAfter:          2 * time.Minute,
		ButtonRule:         ButtonMoving,
		TimeoutPolicy:      TimeoutFold,
		CheckpointInterval: 5 * time.Second,
	}
}

// Normalize fills zero-valued optional fields with defaults.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = def.ActionTimeout
	}
	if c.DisconnectGrace <= 0 {
		c.DisconnectGrace = def.DisconnectGrace
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = def.SettleDelay
	}
	if c.IdleAfter <= 0 {
		c.IdleAfter = def.IdleAfter
	}
	if c.CheckpointInterval <= 0 {
		c.CheckpointInterval = def.CheckpointInterval
	}
	if c.ButtonRule == "" {
		c.ButtonRule = ButtonMoving
	}
	if c.TimeoutPolicy == "" {
		c.TimeoutPolicy = TimeoutFold
	}
}

// Validate checks the gameplay parameters. Stakes are fixed at a 2x blind
// ratio; seats range from heads-up to ten-handed.
func (c *Config) Validate() error {
	if c.SmallBlind <= 0 {
		return fmt.Errorf("small blind must be positive, got %d", c.SmallBlind)
	}
	if c.BigBlind != 2*c.SmallBlind {
		return fmt.Errorf("big blind must be twice the small blind, got %d/%d", c.SmallBlind, c.BigBlind)
	}
	if c.MaxSeats < 2 || c.MaxSeats > 10 {
		return fmt.Errorf("max seats must be between 2 and 10, got %d", c.MaxSeats)
	}
	if c.MinBuyIn < c.BigBlind {
		return fmt.Errorf("min buy-in %d below one big blind", c.MinBuyIn)
	}
	if c.MaxBuyIn < c.MinBuyIn {
		return fmt.Errorf("max buy-in %d below min buy-in %d", c.MaxBuyIn, c.MinBuyIn)
	}
	switch c.ButtonRule {
	case ButtonMoving, ButtonDead:
	default:
		return fmt.Errorf("unknown button rule %q", c.ButtonRule)
	}
	switch c.TimeoutPolicy {
	case TimeoutFold, TimeoutCheckFold:
	default:
		return fmt.Errorf("unknown timeout policy %q", c.TimeoutPolicy)
	}
	return nil
}

// Stakes renders the blind structure for lobby listings.
func (c *Config) Stakes() string {
	return fmt.Sprintf("%d/%d", c.SmallBlind, c.BigBlind)
}
