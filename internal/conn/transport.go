package conn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 64
)

// ErrSendBufferFull is returned when the outbound queue is saturated.
var ErrSendBufferFull = errors.New("transport send buffer full")

// Handler receives decoded server envelopes.
type Handler func(env Envelope)

// Conn is the transport seam between the Manager and the wire; the
// gorilla-backed Transport implements it, tests substitute fakes.
type Conn interface {
	Send(event string, payload any) error
	Close()
}

// Dialer opens a Conn to the given websocket URL. onMessage is invoked for
// every decoded envelope; onClose fires once when the transport drops for
// any reason other than a local Close.
type Dialer func(ctx context.Context, url string, onMessage Handler, onClose func(reason error)) (Conn, error)

// Transport is a websocket client connection with read/write pumps and
// keepalive pings.
type Transport struct {
	ws     *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

// Dial implements Dialer using the gorilla websocket dialer.
func Dial(logger *zap.Logger) Dialer {
	return func(ctx context.Context, url string, onMessage Handler, onClose func(error)) (Conn, error) {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		t := &Transport{
			ws:     ws,
			send:   make(chan []byte, sendBufferSize),
			done:   make(chan struct{}),
			logger: logger,
		}
		go t.readPump(onMessage, onClose)
		go t.writePump()
		return t, nil
	}
}

// Send enqueues an envelope for the write pump. Never blocks; a saturated
// queue surfaces as ErrSendBufferFull.
func (t *Transport) Send(event string, payload any) error {
	data, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	select {
	case t.send <- data:
		return nil
	case <-t.done:
		return errors.New("transport closed")
	default:
		return ErrSendBufferFull
	}
}

// Close tears the connection down locally. The onClose callback is not
// invoked for a local close.
func (t *Transport) Close() {
	t.once.Do(func() {
		close(t.done)
		deadline := time.Now().Add(writeWait)
		_ = t.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = t.ws.Close()
	})
}

func (t *Transport) readPump(onMessage Handler, onClose func(error)) {
	t.ws.SetReadLimit(maxMessageSize)
	_ = t.ws.SetReadDeadline(time.Now().Add(pongWait))
	t.ws.SetPongHandler(func(string) error {
		return t.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := t.ws.ReadMessage()
		if err != nil {
			select {
			case <-t.done:
				// Local close, not a transport failure.
			default:
				t.Close()
				onClose(err)
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.logger.Warn("discarding malformed frame", zap.Error(err))
			continue
		}
		onMessage(env)
	}
}

func (t *Transport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-t.send:
			_ = t.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				t.logger.Warn("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = t.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-t.done:
			return
		}
	}
}
