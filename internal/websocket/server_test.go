package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yegors/co-utm/internal/subscriptions"
	"github.com/yegors/co-utm/pkg/logger"
)

type inbound struct {
	Type  string          `json:"type"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

func startServer(t *testing.T) (*Server, *subscriptions.Router, string) {
	t.Helper()
	router := subscriptions.NewRouter(subscriptions.Config{QueueSize: 16}, nil, logger.NewNop())
	dash := DashboardFunc(func() any { return map[string]int{"active_flights": 3} })
	srv := NewServer(router, dash, logger.NewNop())

	hs := httptest.NewServer(http.HandlerFunc(srv.HandleConnection))
	t.Cleanup(func() {
		srv.Shutdown()
		hs.Close()
	})
	return srv, router, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) inbound {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg inbound
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSubscribeAndReceive(t *testing.T) {
	_, router, url := startServer(t)
	conn := dial(t, url)

	conn.WriteJSON(Message{Type: MessageTypeSubscribe, Topic: "flight:F1"})
	if ack := read(t, conn); ack.Type != MessageTypeSubscribed || ack.Topic != "flight:F1" {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	topic := subscriptions.FlightTopic("F1")
	if n := router.Publish(topic, subscriptions.NewEvent(subscriptions.EventTelemetryUpdate, topic, map[string]float64{"lat": 43.6})); n != 1 {
		t.Fatalf("expected delivery to one connection, got %d", n)
	}
	router.Publish(subscriptions.FlightTopic("F2"), subscriptions.NewEvent(subscriptions.EventTelemetryUpdate, subscriptions.FlightTopic("F2"), nil))
	router.Publish(topic, subscriptions.NewEvent(subscriptions.EventConflictAlert, topic, nil))

	first := read(t, conn)
	second := read(t, conn)
	if first.Type != string(subscriptions.EventTelemetryUpdate) || first.Topic != "flight:F1" {
		t.Fatalf("unexpected event: %+v", first)
	}
	if second.Type != string(subscriptions.EventConflictAlert) {
		t.Fatalf("events on other topics must not be delivered, got %+v", second)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	_, router, url := startServer(t)
	conn := dial(t, url)

	conn.WriteJSON(Message{Type: MessageTypeSubscribe, Topic: "hub:H1"})
	read(t, conn)
	conn.WriteJSON(Message{Type: MessageTypeUnsubscribe, Topic: "hub:H1"})
	if ack := read(t, conn); ack.Type != MessageTypeUnsubscribed {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if n := router.SubscriberCount(subscriptions.HubTopic("H1")); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

func TestDashboardRequest(t *testing.T) {
	_, _, url := startServer(t)
	conn := dial(t, url)

	conn.WriteJSON(Message{Type: MessageTypeDashboardRequest})
	msg := read(t, conn)
	if msg.Type != MessageTypeDashboardResponse {
		t.Fatalf("unexpected reply: %+v", msg)
	}
	var data map[string]int
	json.Unmarshal(msg.Data, &data)
	if data["active_flights"] != 3 {
		t.Fatalf("unexpected dashboard payload: %s", msg.Data)
	}
}

func TestInvalidRequests(t *testing.T) {
	_, _, url := startServer(t)
	conn := dial(t, url)

	for _, req := range []Message{
		{Type: MessageTypeSubscribe, Topic: "aircraft:X"},
		{Type: MessageTypeSubscribe, Topic: "flight:"},
		{Type: "launch_missiles"},
	} {
		conn.WriteJSON(req)
		if msg := read(t, conn); msg.Type != MessageTypeError {
			t.Fatalf("expected error for %+v, got %+v", req, msg)
		}
	}
	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	if msg := read(t, conn); msg.Type != MessageTypeError {
		t.Fatalf("expected error for malformed message, got %+v", msg)
	}
}

func TestDisconnectDropsSubscriptions(t *testing.T) {
	srv, router, url := startServer(t)
	conn := dial(t, url)

	conn.WriteJSON(Message{Type: MessageTypeSubscribe, Topic: "drone:D1"})
	read(t, conn)
	if router.ConnectionCount() != 1 || srv.ClientCount() != 1 {
		t.Fatalf("expected one live connection")
	}

	conn.Close()
	waitFor(t, func() bool { return router.ConnectionCount() == 0 && srv.ClientCount() == 0 })

	topic := subscriptions.DroneTopic("D1")
	if n := router.Publish(topic, subscriptions.NewEvent(subscriptions.EventCommandCreated, topic, nil)); n != 0 {
		t.Fatalf("removed connection must not receive events, got %d", n)
	}
}

func TestResubscribeAfterReconnect(t *testing.T) {
	_, router, url := startServer(t)
	first := dial(t, url)
	first.WriteJSON(Message{Type: MessageTypeSubscribe, Topic: "flight:F1"})
	read(t, first)
	first.Close()
	waitFor(t, func() bool { return router.ConnectionCount() == 0 })

	second := dial(t, url)
	waitFor(t, func() bool { return router.ConnectionCount() == 1 })
	if n := router.SubscriberCount(subscriptions.FlightTopic("F1")); n != 0 {
		t.Fatalf("subscriptions must not survive reconnect, got %d", n)
	}
	second.WriteJSON(Message{Type: MessageTypeSubscribe, Topic: "flight:F1"})
	read(t, second)
	if n := router.SubscriberCount(subscriptions.FlightTopic("F1")); n != 1 {
		t.Fatalf("expected 1 subscriber after resubscribe, got %d", n)
	}
}
