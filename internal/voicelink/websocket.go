package voicelink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/liuscraft/orion-ambience/internal/logging"
)

// wireMessage is one text frame from the voice host, e.g.
//
//	{"type":"speaking_started"}
//	{"type":"error","message":"asr timeout"}
type wireMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

type WebSocketOption func(*WebSocketSource)

func WithHeader(header http.Header) WebSocketOption {
	return func(s *WebSocketSource) { s.header = header.Clone() }
}

func WithDialer(dialer *websocket.Dialer) WebSocketOption {
	return func(s *WebSocketSource) { s.dialer = dialer }
}

// WithAudioSink receives binary frames (16-bit LE mono PCM of the assistant
// voice). Without a sink binary frames are dropped.
func WithAudioSink(sink func(pcm []byte)) WebSocketOption {
	return func(s *WebSocketSource) { s.audio = sink }
}

// WebSocketSource 通过 WebSocket 接收语音会话事件
type WebSocketSource struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
	audio  func(pcm []byte)

	mu      sync.Mutex
	conn    *websocket.Conn
	closing bool
	doneCh  chan struct{}
}

func NewWebSocketSource(url string, opts ...WebSocketOption) *WebSocketSource {
	s := &WebSocketSource{
		url:    url,
		header: http.Header{},
		dialer: websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WebSocketSource) Connect(ctx context.Context, handler Handler) error {
	if s.url == "" {
		return errors.New("voicelink: websocket url is empty")
	}
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.mu.Unlock()

	conn, _, err := s.dialer.DialContext(ctx, s.url, s.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrAlreadyConnected
	}
	s.conn = conn
	s.closing = false
	s.doneCh = make(chan struct{})
	done := s.doneCh
	s.mu.Unlock()

	logging.Infof("VoiceLink: connected to %s", s.url)
	handler(NewConnectedEvent())
	s.startReceiver(conn, done, handler)
	return nil
}

func (s *WebSocketSource) startReceiver(conn *websocket.Conn, done chan struct{}, handler Handler) {
	go func() {
		defer close(done)
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				s.handleReadError(conn, err, handler)
				return
			}

			if messageType == websocket.BinaryMessage {
				if s.audio != nil {
					s.audio(data)
				}
				continue
			}
			if messageType != websocket.TextMessage {
				continue
			}

			var msg wireMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				handler(NewErrorEvent(fmt.Errorf("decode voice event: %w", err)))
				continue
			}
			if s.handleMessage(msg, handler) {
				s.release(conn)
				_ = conn.Close()
				return
			}
		}
	}()
}

// handleMessage returns true when the host ended the session.
func (s *WebSocketSource) handleMessage(msg wireMessage, handler Handler) bool {
	t, ok := ParseEventType(msg.Type)
	if !ok {
		logging.Debugf("VoiceLink: ignoring unknown event %q", msg.Type)
		return false
	}
	switch t {
	case EventSpeakingStarted:
		handler(NewSpeakingStartedEvent())
	case EventSpeakingStopped:
		handler(NewSpeakingStoppedEvent())
	case EventError:
		handler(NewErrorEvent(errors.New(msg.Message)))
	case EventDisconnected:
		handler(NewDisconnectedEvent(msg.Message))
		return true
	case EventConnected:
		// already reported on dial
	}
	return false
}

func (s *WebSocketSource) handleReadError(conn *websocket.Conn, err error, handler Handler) {
	intentional := s.release(conn)
	if intentional {
		return
	}
	reason := err.Error()
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		reason = "closed by host"
	}
	logging.Warnf("VoiceLink: connection lost: %v", err)
	handler(NewDisconnectedEvent(reason))
}

// release clears conn if it is still current. It reports whether the close
// was requested through Disconnect.
func (s *WebSocketSource) release(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != conn {
		return true
	}
	intentional := s.closing
	s.conn = nil
	return intentional
}

func (s *WebSocketSource) Disconnect() error {
	s.mu.Lock()
	conn := s.conn
	done := s.doneCh
	if conn == nil {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	err := conn.Close()

	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			logging.Warnf("VoiceLink: receiver did not exit in time")
		}
	}

	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()

	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return fmt.Errorf("close websocket: %w", err)
	}
	return nil
}
