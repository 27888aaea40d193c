package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dialkit/dialkit/pkg/core/protocol"
)

// echoServer upgrades the connection, records inbound frames, and can push
// server events down to the client.
type echoServer struct {
	t        *testing.T
	upgrader websocket.Upgrader
	received chan []byte
	send     chan []byte
}

func newEchoServer(t *testing.T) (*echoServer, *httptest.Server) {
	es := &echoServer{
		t:        t,
		received: make(chan []byte, 16),
		send:     make(chan []byte, 16),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := es.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		go func() {
			for data := range es.send {
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			es.received <- data
		}
	}))
	t.Cleanup(srv.Close)
	return es, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSChannel_SendEncodesFrames(t *testing.T) {
	es, srv := newEchoServer(t)

	ch, err := Dial(context.Background(), wsURL(srv), nil, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ch.Close()

	if err := ch.Send(protocol.SystemItem("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case data := <-es.received:
		var envelope struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if envelope.Type != "conversation.item.create" {
			t.Errorf("type = %q", envelope.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive frame")
	}
}

func TestWSChannel_DecodesInboundEvents(t *testing.T) {
	es, srv := newEchoServer(t)

	ch, err := Dial(context.Background(), wsURL(srv), nil, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ch.Close()

	es.send <- []byte(`{"type":"response.created","response_id":"r1"}`)

	select {
	case ev := <-ch.Events():
		created, ok := ev.(protocol.ResponseCreated)
		if !ok {
			t.Fatalf("expected ResponseCreated, got %T", ev)
		}
		if created.ResponseID != "r1" {
			t.Errorf("response id = %q", created.ResponseID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestWSChannel_MalformedFrameBecomesErrorEvent(t *testing.T) {
	es, srv := newEchoServer(t)

	ch, err := Dial(context.Background(), wsURL(srv), nil, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ch.Close()

	es.send <- []byte(`{"type":"mystery.event"}`)

	select {
	case ev := <-ch.Events():
		errEv, ok := ev.(protocol.ErrorEvent)
		if !ok {
			t.Fatalf("expected ErrorEvent, got %T", ev)
		}
		if errEv.Code != "decode_error" {
			t.Errorf("code = %q", errEv.Code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestWSChannel_CloseIsIdempotent(t *testing.T) {
	_, srv := newEchoServer(t)

	ch, err := Dial(context.Background(), wsURL(srv), nil, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := ch.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if err := ch.Send(protocol.NewResponseCreate()); err == nil {
		t.Error("expected send after close to fail")
	}

	// Events channel drains and closes.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed")
		}
	}
}
