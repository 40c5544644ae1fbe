package gateway

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lipsignal/lipsignal-go/internal/contextutil"
	"github.com/lipsignal/lipsignal-go/realtime/ws"
)

func encodeKey(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func decodeKey(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }

// socketAdapter makes a *ws.Conn satisfy session.Socket. Writes are
// serialized because a connection's own reply and a peer's forwarded
// message (sendTo, called from a different goroutine handling the
// peer's request) can race to write the same underlying conn.
type socketAdapter struct {
	mu         sync.Mutex
	conn       *ws.Conn
	remoteAddr string
	writeTO    time.Duration
}

func newSocketAdapter(conn *ws.Conn, remoteAddr string, writeTimeout time.Duration) *socketAdapter {
	return &socketAdapter{conn: conn, remoteAddr: remoteAddr, writeTO: writeTimeout}
}

func (s *socketAdapter) Send(body []byte) error {
	ctx, cancel := contextutil.WithTimeout(context.Background(), s.writeTO)
	defer cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(ctx, websocket.TextMessage, body)
}

func (s *socketAdapter) RemoteAddr() string { return s.remoteAddr }
