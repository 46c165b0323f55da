package gateway

import (
	"encoding/json"
	"time"
)

// Message is the wire frame for both directions. Payload shape depends
// on Type; client actions carry ClientMsgID for server-side de-dup.
type Message struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	ClientMsgID string          `json:"client_message_id,omitempty"`
}

// NewMessage builds an outbound frame with the current timestamp
func NewMessage(msgType string, payload any) (*Message, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return &Message{Type: msgType, Payload: raw, Timestamp: time.Now()}, nil
}

// Inbound message types (client to server)
const (
	MsgAuthenticate = "authenticate"
	MsgSubscribe    = "subscribe"
	MsgUnsubscribe  = "unsubscribe"
	MsgPing         = "ping"
	MsgCreateTable  = "create_table"
	MsgListTables   = "list_tables"
	MsgJoinTable    = "join_table"
	MsgLeaveTable   = "leave_table"
	MsgSitIn        = "sit_in"
	MsgSitOut       = "sit_out"
	MsgPlayerAction = "player_action"
	MsgChat         = "chat"
	MsgReconnect    = "reconnect"
)

// Outbound message types the gateway originates. Table events pass
// through with the actor's own type names.
const (
	MsgConnected             = "connected"
	MsgSubscriptionConfirmed = "subscription_confirmed"
	MsgError                 = "error"
	MsgPong                  = "pong"
	MsgTableList             = "table_list"
	MsgTableCreated          = "table_created"
)

// Channel names for subscriptions
const (
	ChannelLobby     = "lobby"
	ChannelGame      = "game"
	ChannelChat      = "chat"
	ChannelSpectator = "spectator"
	ChannelAdmin     = "admin"
)

// Wire error codes
const (
	CodeUnauthorized        = "unauthorized"
	CodeInvalidMessage      = "invalid_message"
	CodeRateLimited         = "rate_limited"
	CodeBackpressureDropped = "backpressure_dropped"
	CodeNotAtTable          = "not_at_table"
	CodeTableFull           = "table_full"
	CodeTableNotFound       = "table_not_found"
	CodeSeatTaken           = "seat_taken"
	CodeInvalidBuyIn        = "invalid_buy_in"
	CodeSubscriptionLimit   = "subscription_limit"
	CodeInvalidAction       = "invalid_action"
)

// Client payloads

type AuthenticatePayload struct {
	Token string `json:"token"`
}

type SubscribePayload struct {
	Channel string `json:"channel"`
	TableID string `json:"table_id,omitempty"`
}

type CreateTablePayload struct {
	Name       string `json:"name"`
	SmallBlind int64  `json:"small_blind"`
	BigBlind   int64  `json:"big_blind"`
	MinBuyIn   int64  `json:"min_buy_in"`
	MaxBuyIn   int64  `json:"max_buy_in"`
	MaxSeats   int    `json:"max_seats"`
}

type ListTablesPayload struct {
	Stakes   string `json:"stakes,omitempty"`
	HasSeats bool   `json:"has_seats,omitempty"`
}

type JoinTablePayload struct {
	TableID   string `json:"table_id"`
	SeatIndex *int   `json:"seat_index,omitempty"`
	BuyIn     int64  `json:"buy_in"`
}

type TableIDPayload struct {
	TableID string `json:"table_id"`
}

type PlayerActionPayload struct {
	TableID string `json:"table_id"`
	Action  string `json:"action"`
	Amount  int64  `json:"amount,omitempty"`
}

type ChatPayload struct {
	TableID string `json:"table_id"`
	Text    string `json:"text"`
}

type ReconnectPayload struct {
	TableID         string `json:"table_id"`
	LastSeenVersion uint64 `json:"last_seen_version"`
}

// Server payloads

type ConnectedPayload struct {
	SessionID   string `json:"session_id"`
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
}

type SubscriptionConfirmedPayload struct {
	Channel string `json:"channel"`
	TableID string `json:"table_id,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TableEventPayload wraps a table envelope for the wire: the event body
// under Data, tagged with its table and state version.
type TableEventPayload struct {
	TableID string `json:"table_id"`
	Version uint64 `json:"version,omitempty"`
	Data    any    `json:"data"`
}
