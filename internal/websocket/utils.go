package websocket

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// PongWait bounds how long a silent client is kept.
	PongWait = 60 * time.Second
	// maxMessageSize caps client frames; clients only send small actions.
	maxMessageSize = 4096
)

// WriteTyped encodes v as a single text frame.
func WriteTyped(conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode ws frame: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// WriteError sends an ErrorResponse.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{Event: EventError, Error: errMsg})
}

// WritePing sends a control ping.
func WritePing(conn *websocket.Conn) error {
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// ReadJSON reads one frame into v, extending the read deadline first.
func ReadJSON(conn *websocket.Conn, v any) error {
	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(PongWait)); err != nil {
		return err
	}
	_, payload, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, v)
}
