// ABOUTME: One outbound websocket session to a remote sink, inverted from pkg/protocol/client.go's dialer
// ABOUTME: Wire framing matches internal/server/server.go's CreateAudioChunk ([type:1][timestamp:8][data])
package remotesink

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/resonatehub/playbackd/internal/engine"
)

const audioChunkMessageType = 1

type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// session is one outbound connection to a sink's websocket address. All
// methods except the read loop and write are called from the player
// thread via Driver; the read loop reports back asynchronously by
// calling cb directly from its own goroutine, not from the player thread.
type session struct {
	id      uint64
	sinkID  uint64
	conn    *websocket.Conn
	cb      engine.SinkCallback
	codec   string
	encoder *opusEncoder

	mu     sync.Mutex
	closed bool
}

var dialer = websocket.Dialer{HandshakeTimeout: connectTimeout}

func dial(address string) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: address, Path: "/resonate"}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("remotesink: dial %s: %w", address, err)
	}
	return conn, nil
}

// handshake exchanges client/hello and server/hello, returning the
// codec the sink negotiated ("opus" or "pcm").
func handshake(conn *websocket.Conn, serverID, name string) (string, error) {
	hello := wireMessage{Type: "client/hello"}
	payload, _ := json.Marshal(map[string]any{
		"client_id":       serverID,
		"name":            name,
		"version":         1,
		"supported_roles": []string{"player"},
		"player@v1_support": map[string]any{
			"supported_formats": []map[string]any{
				{"codec": "pcm", "channels": 2, "sample_rate": engine.SampleRate, "bit_depth": 16},
				{"codec": "opus", "channels": 2, "sample_rate": engine.SampleRate, "bit_depth": 16},
			},
		},
	})
	hello.Payload = payload
	if err := conn.WriteJSON(hello); err != nil {
		return "", fmt.Errorf("remotesink: send hello: %w", err)
	}

	var reply wireMessage
	if err := conn.ReadJSON(&reply); err != nil {
		return "", fmt.Errorf("remotesink: read hello reply: %w", err)
	}
	if reply.Type != "server/hello" {
		return "", fmt.Errorf("remotesink: unexpected handshake reply %q", reply.Type)
	}
	var body struct {
		ActiveRoles []string `json:"active_roles"`
	}
	_ = json.Unmarshal(reply.Payload, &body)

	codec := "pcm"
	for _, r := range body.ActiveRoles {
		if r == "player@opus" {
			codec = "opus"
		}
	}
	return codec, nil
}

func (s *session) sendStreamStart() error {
	payload, _ := json.Marshal(map[string]any{
		"player": map[string]any{
			"codec":       s.codec,
			"sample_rate": engine.SampleRate,
			"channels":    2,
			"bit_depth":   16,
		},
	})
	return s.conn.WriteJSON(wireMessage{Type: "stream/start", Payload: payload})
}

// writeAudio frames one timestamped packet and sends it as a binary
// websocket message, encoding to Opus first if negotiated.
func (s *session) writeAudio(buf []byte, rtp uint64) error {
	data := buf
	if s.encoder != nil {
		pcm := bytesToInt16(buf)
		encoded, err := s.encoder.Encode(pcm)
		if err != nil {
			return fmt.Errorf("remotesink: opus encode: %w", err)
		}
		data = encoded
	}

	chunk := make([]byte, 1+8+len(data))
	chunk[0] = audioChunkMessageType
	binary.BigEndian.PutUint64(chunk[1:9], rtp)
	copy(chunk[9:], data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("remotesink: session closed")
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, chunk)
}

func (s *session) sendCommand(name string, fields map[string]any) error {
	body := map[string]any{"command": name}
	for k, v := range fields {
		body[k] = v
	}
	payload, _ := json.Marshal(map[string]any{"player": body})
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("remotesink: session closed")
	}
	return s.conn.WriteJSON(wireMessage{Type: "server/command", Payload: payload})
}

// readLoop drains incoming state/goodbye messages until the connection
// drops, reporting terminal status through cb. Runs on its own
// goroutine, one per session.
func (s *session) readLoop() {
	for {
		var msg wireMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			s.cb(s.sinkID, s.id, engine.SinkFailed)
			return
		}
		switch msg.Type {
		case "client/goodbye":
			s.cb(s.sinkID, s.id, engine.SinkStopped)
			return
		}
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.conn.Close()
}

func bytesToInt16(buf []byte) []int16 {
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(uint16(buf[i*2]) | uint16(buf[i*2+1])<<8)
	}
	return out
}

// connectTimeout bounds how long a dial+handshake may take before the
// driver reports the session a failure.
const connectTimeout = 5 * time.Second
