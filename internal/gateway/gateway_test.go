package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feltpoker/felt/internal/auth"
	"github.com/feltpoker/felt/internal/registry"
	"github.com/feltpoker/felt/internal/table"
	"github.com/feltpoker/felt/internal/wallet"
)

const readTimeout = 2 * time.Second

type harness struct {
	gw  *Gateway
	reg *registry.Registry
	srv *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	validator, err := auth.NewStaticValidator([]string{
		"tok-alice:alice:Alice",
		"tok-bob:bob:Bob",
		"tok-admin:root:Root:admin",
	})
	require.NoError(t, err)

	// The mock clock keeps the auth window from expiring mid-test; message
	// handling itself never waits on it.
	clock := quartz.NewMock(t)
	w := wallet.NewMemory(uuid.NewString)
	require.NoError(t, w.Credit(context.Background(), "alice", 100_000))
	require.NoError(t, w.Credit(context.Background(), "bob", 100_000))

	gw := New(Options{Clock: clock, Validator: validator})
	reg := registry.New(registry.Options{
		Clock:       clock,
		Broadcaster: gw,
		Escrow:      w,
	})
	gw.SetRegistry(reg)

	srv := httptest.NewServer(http.HandlerFunc(gw.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		gw.Shutdown()
		reg.Shutdown()
	})
	return &harness{gw: gw, reg: reg, srv: srv}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	msg, err := NewMessage(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(msg))
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) Message {
	t.Helper()
	for i := 0; i < 20; i++ {
		msg := read(t, conn)
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("no %s frame received", msgType)
	return Message{}
}

func decodePayload[T any](t *testing.T, msg Message) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(msg.Payload, &out))
	return out
}

func authenticate(t *testing.T, conn *websocket.Conn, token string) ConnectedPayload {
	t.Helper()
	send(t, conn, MsgAuthenticate, AuthenticatePayload{Token: token})
	msg := read(t, conn)
	require.Equal(t, MsgConnected, msg.Type)
	return decodePayload[ConnectedPayload](t, msg)
}

func TestAuthenticateAndPing(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	connected := authenticate(t, conn, "tok-alice")
	assert.Equal(t, "alice", connected.PlayerID)
	assert.Equal(t, "Alice", connected.DisplayName)
	assert.NotEmpty(t, connected.SessionID)

	send(t, conn, MsgPing, nil)
	assert.Equal(t, MsgPong, read(t, conn).Type)
}

func TestRejectsBadToken(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, MsgAuthenticate, AuthenticatePayload{Token: "bogus"})
	msg := read(t, conn)
	require.Equal(t, MsgError, msg.Type)
	assert.Equal(t, CodeUnauthorized, decodePayload[ErrorPayload](t, msg).Code)

	// The server closes rejected connections.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(readTimeout)))
	var discard Message
	assert.Error(t, conn.ReadJSON(&discard))
}

func TestRequiresAuthentication(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, MsgListTables, nil)
	msg := read(t, conn)
	require.Equal(t, MsgError, msg.Type)
	assert.Equal(t, CodeUnauthorized, decodePayload[ErrorPayload](t, msg).Code)
}

func TestSubscribeValidation(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	authenticate(t, conn, "tok-alice")

	send(t, conn, MsgSubscribe, SubscribePayload{Channel: ChannelLobby})
	msg := read(t, conn)
	require.Equal(t, MsgSubscriptionConfirmed, msg.Type)
	assert.Equal(t, ChannelLobby, decodePayload[SubscriptionConfirmedPayload](t, msg).Channel)

	send(t, conn, MsgSubscribe, SubscribePayload{Channel: "firehose"})
	msg = read(t, conn)
	require.Equal(t, MsgError, msg.Type)
	assert.Equal(t, CodeInvalidMessage, decodePayload[ErrorPayload](t, msg).Code)

	send(t, conn, MsgSubscribe, SubscribePayload{Channel: ChannelGame, TableID: "missing"})
	msg = read(t, conn)
	require.Equal(t, MsgError, msg.Type)
	assert.Equal(t, CodeTableNotFound, decodePayload[ErrorPayload](t, msg).Code)

	send(t, conn, MsgSubscribe, SubscribePayload{Channel: ChannelAdmin})
	msg = read(t, conn)
	require.Equal(t, MsgError, msg.Type)
	assert.Equal(t, CodeUnauthorized, decodePayload[ErrorPayload](t, msg).Code)
}

func TestAdminChannelNeedsRole(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	authenticate(t, conn, "tok-admin")

	send(t, conn, MsgSubscribe, SubscribePayload{Channel: ChannelAdmin})
	assert.Equal(t, MsgSubscriptionConfirmed, read(t, conn).Type)
}

func TestCreateAndListTables(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	authenticate(t, conn, "tok-alice")

	send(t, conn, MsgCreateTable, CreateTablePayload{Name: "main", SmallBlind: 10, BigBlind: 20})
	msg := read(t, conn)
	require.Equal(t, MsgTableCreated, msg.Type)
	created := decodePayload[table.Summary](t, msg)
	assert.Equal(t, "main", created.Name)
	assert.Equal(t, "10/20", created.Stakes)
	assert.NotEmpty(t, created.ID)

	send(t, conn, MsgListTables, nil)
	msg = read(t, conn)
	require.Equal(t, MsgTableList, msg.Type)
	list := decodePayload[[]table.Summary](t, msg)
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)

	send(t, conn, MsgListTables, ListTablesPayload{Stakes: "50/100"})
	msg = read(t, conn)
	require.Equal(t, MsgTableList, msg.Type)
	assert.Empty(t, decodePayload[[]table.Summary](t, msg))
}

func TestCreateTableRejectsBadStakes(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	authenticate(t, conn, "tok-alice")

	send(t, conn, MsgCreateTable, CreateTablePayload{SmallBlind: 10, BigBlind: 25})
	msg := read(t, conn)
	require.Equal(t, MsgError, msg.Type)
	assert.Equal(t, CodeInvalidMessage, decodePayload[ErrorPayload](t, msg).Code)
}

func TestJoinTableDeliversSnapshot(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	authenticate(t, conn, "tok-alice")

	send(t, conn, MsgCreateTable, CreateTablePayload{Name: "main", SmallBlind: 10, BigBlind: 20})
	created := decodePayload[table.Summary](t, readUntil(t, conn, MsgTableCreated))

	send(t, conn, MsgJoinTable, JoinTablePayload{TableID: created.ID, BuyIn: 1000})
	state := readUntil(t, conn, table.TypeTableState)
	var payload struct {
		TableID string          `json:"table_id"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(state.Payload, &payload))
	assert.Equal(t, created.ID, payload.TableID)
}

func TestJoinUnknownTable(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	authenticate(t, conn, "tok-alice")

	send(t, conn, MsgJoinTable, JoinTablePayload{TableID: "missing", BuyIn: 1000})
	msg := read(t, conn)
	require.Equal(t, MsgError, msg.Type)
	assert.Equal(t, CodeTableNotFound, decodePayload[ErrorPayload](t, msg).Code)
}

func TestJoinRejectsBadBuyIn(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	authenticate(t, conn, "tok-alice")

	send(t, conn, MsgCreateTable, CreateTablePayload{Name: "main", SmallBlind: 10, BigBlind: 20})
	created := decodePayload[table.Summary](t, readUntil(t, conn, MsgTableCreated))

	send(t, conn, MsgJoinTable, JoinTablePayload{TableID: created.ID, BuyIn: 1})
	msg := read(t, conn)
	require.Equal(t, MsgError, msg.Type)
	assert.Equal(t, CodeInvalidBuyIn, decodePayload[ErrorPayload](t, msg).Code)
}

// fakeSession builds a session that is never started, so frames pile up
// in its send buffer for inspection.
func fakeSession(g *Gateway, id, playerID string) *Session {
	s := newSession(id, nil, g)
	if playerID != "" {
		s.setIdentity(&auth.Identity{PlayerID: playerID, DisplayName: playerID})
	}
	return s
}

func drain(s *Session) []*Message {
	var out []*Message
	for {
		select {
		case msg := <-s.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestDeliverFanout(t *testing.T) {
	g := New(Options{Clock: quartz.NewMock(t)})

	alice := fakeSession(g, "s-alice", "alice")
	bob := fakeSession(g, "s-bob", "bob")
	watcher := fakeSession(g, "s-watch", "carol")

	g.mu.Lock()
	g.byPlayer["alice"] = map[*Session]bool{alice: true}
	g.byPlayer["bob"] = map[*Session]bool{bob: true}
	g.subscribeLocked(alice, subKey{channel: ChannelGame, tableID: "tbl-1"})
	g.subscribeLocked(bob, subKey{channel: ChannelGame, tableID: "tbl-1"})
	g.subscribeLocked(watcher, subKey{channel: ChannelSpectator, tableID: "tbl-1"})
	g.mu.Unlock()

	g.Deliver(table.Envelope{
		Table: "tbl-1", Version: 1, Policy: table.ToPlayer, To: "alice",
		Type: table.TypeCardsDealt, Event: map[string]any{"hand_id": "h1"},
	})
	assert.Len(t, drain(alice), 1)
	assert.Empty(t, drain(bob))
	assert.Empty(t, drain(watcher))

	g.Deliver(table.Envelope{
		Table: "tbl-1", Version: 2, Policy: table.ToAllAtTable,
		Type: table.TypeGameUpdate, Event: map[string]any{},
	})
	assert.Len(t, drain(alice), 1)
	assert.Len(t, drain(bob), 1)
	assert.Len(t, drain(watcher), 1)

	g.Deliver(table.Envelope{
		Table: "tbl-1", Version: 3, Policy: table.ToAllExcept, To: "bob",
		Type: table.TypeChatMessage, Event: map[string]any{},
	})
	assert.Len(t, drain(alice), 1)
	assert.Empty(t, drain(bob))
	assert.Len(t, drain(watcher), 1)

	g.Deliver(table.Envelope{
		Table: "tbl-1", Version: 4, Policy: table.ToSpectators,
		Type: table.TypeTableState, Event: map[string]any{},
	})
	assert.Empty(t, drain(alice))
	assert.Empty(t, drain(bob))
	msgs := drain(watcher)
	require.Len(t, msgs, 1)
	assert.Equal(t, table.TypeTableState, msgs[0].Type)

	// Events for other tables never leak across.
	g.Deliver(table.Envelope{
		Table: "tbl-2", Version: 1, Policy: table.ToAllAtTable,
		Type: table.TypeGameUpdate, Event: map[string]any{},
	})
	assert.Empty(t, drain(alice))
	assert.Empty(t, drain(bob))
	assert.Empty(t, drain(watcher))
}

func TestSendTableErrorCodes(t *testing.T) {
	g := New(Options{Clock: quartz.NewMock(t)})

	cases := []struct {
		err  error
		code string
	}{
		{table.ErrBackpressure, CodeBackpressureDropped},
		{table.ErrClosed, CodeTableNotFound},
		{table.ErrTableFull, CodeTableFull},
		{table.ErrSeatTaken, CodeSeatTaken},
		{table.ErrAlreadySeated, CodeSeatTaken},
		{table.ErrInvalidSeat, CodeSeatTaken},
		{table.ErrInvalidBuyIn, CodeInvalidBuyIn},
		{table.ErrNotAtTable, CodeNotAtTable},
	}
	for _, tc := range cases {
		s := fakeSession(g, "s", "alice")
		g.sendTableError(s, tc.err)
		msgs := drain(s)
		require.Len(t, msgs, 1)
		var payload ErrorPayload
		require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))
		assert.Equal(t, tc.code, payload.Code, "error %v", tc.err)
	}
}
