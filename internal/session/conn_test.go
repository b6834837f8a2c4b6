package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aditya/ride-dispatch/internal/logging"
	"github.com/gorilla/websocket"
)

func TestConnDeliversMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	conns := make(chan *Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := NewConn(ws, logging.Discard())
		conns <- c
		c.ReadPump()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	conn := <-conns
	if err := conn.Send(Message{Event: EventOfferIssued, Payload: map[string]string{"order_id": "o1"}}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg struct {
		Event   string            `json:"event"`
		Payload map[string]string `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Event != EventOfferIssued || msg.Payload["order_id"] != "o1" {
		t.Errorf("got %+v", msg)
	}

	conn.Close()
	if err := conn.Send(Message{Event: EventOfferRetracted}); err != ErrChannelClosed {
		t.Errorf("Send() after Close = %v, want ErrChannelClosed", err)
	}
}
