package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testHub() *Hub {
	return NewHub(nil)
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventVerification, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventSettlement},
	}}

	if !h.shouldSend(client, &Event{Type: EventSettlement}) {
		t.Error("Should receive settlement events")
	}
	if h.shouldSend(client, &Event{Type: EventVerification}) {
		t.Error("Should NOT receive verification events")
	}
}

func TestShouldSend_PayerFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		Payers: []string{"0xAAAA000000000000000000000000000000000001"},
	}}

	matching := &Event{
		Type: EventSettlement,
		Data: Payment{Payer: "0xaaaa000000000000000000000000000000000001"},
	}
	notMatching := &Event{
		Type: EventSettlement,
		Data: Payment{Payer: "0xbbbb000000000000000000000000000000000002"},
	}

	if !h.shouldSend(client, matching) {
		t.Error("Should match payer case-insensitively")
	}
	if h.shouldSend(client, notMatching) {
		t.Error("Should NOT match unrelated payers")
	}
}

func TestShouldSend_FailuresOnly(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true, FailuresOnly: true}}

	success := &Event{Type: EventSettlement, Data: Payment{Success: true}}
	failure := &Event{Type: EventSettlement, Data: Payment{Success: false, Reason: "insufficient_utxo_balance"}}

	if h.shouldSend(client, success) {
		t.Error("FailuresOnly client should not receive successes")
	}
	if !h.shouldSend(client, failure) {
		t.Error("FailuresOnly client should receive failures")
	}
}

// ---------------------------------------------------------------------------
// End-to-end broadcast over a real socket
// ---------------------------------------------------------------------------

func TestHub_BroadcastReachesClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	// Wait for registration before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.RLock()
		n := len(h.clients)
		h.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.PublishSettlement("0xpayer", "tx-1", "", 100, true)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var event Event
	if err := json.Unmarshal(message, &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.Type != EventSettlement {
		t.Errorf("expected settlement event, got %s", event.Type)
	}
	if event.Data.TxID != "tx-1" {
		t.Errorf("expected txid tx-1, got %s", event.Data.TxID)
	}
}
