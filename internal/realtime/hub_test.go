package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/tokenrisk/internal/assess"
	"github.com/mbd888/tokenrisk/internal/redflag"
	"github.com/mbd888/tokenrisk/internal/score"
)

const usdt = "0xdAC17F958D2ee523a2206206994597C13D831ec7"

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func finalized(final float64, tier score.Tier) *assess.Outcome {
	req := assess.NewRequestAt(usdt, "ethereum", "eu", at)
	return &assess.Outcome{
		Request: req,
		State:   assess.StateFinalized,
		Assessment: &score.Assessment{
			ID:         req.ID,
			Token:      req.Token,
			Chain:      req.Chain,
			Profile:    "eu",
			FinalScore: final,
			Tier:       tier,
			Flags:      []redflag.Flag{{ID: "mica_non_compliant"}},
		},
		CompletedAt: at,
	}
}

func failed() *assess.Outcome {
	req := assess.NewRequestAt(usdt, "ethereum", "martian", at)
	return &assess.Outcome{
		Request:     req,
		State:       assess.StateFailed,
		Failure:     &assess.FailureError{Reason: assess.ReasonUnknownProfile, Err: errors.New("nope")},
		CompletedAt: at,
	}
}

func TestEventFrom(t *testing.T) {
	e := EventFrom(finalized(72.5, score.TierHigh))
	assert.Equal(t, EventFinalized, e.Type)
	assert.Equal(t, at, e.Timestamp)
	assert.Equal(t, "ethereum", e.Chain)
	assert.Equal(t, "eu", e.Profile)
	assert.Equal(t, 72.5, e.FinalScore)
	assert.Equal(t, "High", e.Tier)
	assert.Equal(t, []string{"mica_non_compliant"}, e.Flags)
	assert.Empty(t, e.Reason)

	e = EventFrom(failed())
	assert.Equal(t, EventFailed, e.Type)
	assert.Equal(t, "unknown_profile", e.Reason)
	assert.Empty(t, e.Tier)
}

func TestShouldSend(t *testing.T) {
	high := EventFrom(finalized(72.5, score.TierHigh))
	low := EventFrom(finalized(10, score.TierLow))
	bad := EventFrom(failed())

	tests := []struct {
		name string
		sub  Subscription
		want []bool // high, low, bad
	}{
		{"empty matches everything", Subscription{}, []bool{true, true, true}},
		{"failures only", Subscription{EventTypes: []EventType{EventFailed}}, []bool{false, false, true}},
		{"chain", Subscription{Chains: []string{"Ethereum"}}, []bool{true, true, true}},
		{"other chain", Subscription{Chains: []string{"bsc"}}, []bool{false, false, false}},
		{"token case-insensitive", Subscription{Tokens: []string{strings.ToLower(usdt)}}, []bool{true, true, true}},
		{"tier", Subscription{Tiers: []string{"high", "critical"}}, []bool{true, false, false}},
		{"min score", Subscription{MinScore: 50}, []bool{true, false, false}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Client{sub: tt.sub}
			got := []bool{shouldSend(c, high), shouldSend(c, low), shouldSend(c, bad)}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := runHub(t)
	client := &Client{hub: h, send: make(chan []byte, 8)}
	h.register <- client

	h.Publish(finalized(72.5, score.TierHigh))

	select {
	case msg := <-client.send:
		var e Event
		require.NoError(t, json.Unmarshal(msg, &e))
		assert.Equal(t, EventFinalized, e.Type)
		assert.Equal(t, 72.5, e.FinalScore)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
	assert.Eventually(t, func() bool { return h.Stats().TotalEvents == 1 }, time.Second, 5*time.Millisecond)
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := runHub(t)
	client := &Client{hub: h, send: make(chan []byte, 8), sub: Subscription{EventTypes: []EventType{EventFailed}}}
	h.register <- client

	h.Publish(finalized(72.5, score.TierHigh))
	h.Publish(failed())

	select {
	case msg := <-client.send:
		assert.Contains(t, string(msg), `"assessment.failed"`)
	case <-time.After(time.Second):
		t.Fatal("client should receive the failure")
	}
	select {
	case msg := <-client.send:
		t.Fatalf("unexpected message %s", msg)
	default:
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := runHub(t)
	client := &Client{hub: h, send: make(chan []byte, 1)}

	h.register <- client
	assert.Eventually(t, func() bool { return h.Stats().ConnectedClients == 1 }, time.Second, 5*time.Millisecond)

	h.unregister <- client
	assert.Eventually(t, func() bool { return h.Stats().ConnectedClients == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-client.send
	assert.False(t, open, "send channel closed on unregister")

	s := h.Stats()
	assert.Equal(t, int64(1), s.TotalClients)
	assert.Equal(t, int64(1), s.PeakClients)
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop after context cancellation")
	}

	rec := httptest.NewRecorder()
	h.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/v1/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHub_WebSocketRoundTrip(t *testing.T) {
	h := runHub(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return h.Stats().ConnectedClients == 1 }, time.Second, 5*time.Millisecond)
	h.Publish(finalized(40, score.TierMedium))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, EventFinalized, e.Type)
	assert.Equal(t, "Medium", e.Tier)
	assert.Equal(t, usdt, e.Token)
}
