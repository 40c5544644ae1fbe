// Package gateway terminates the encrypted control-channel websocket
// connections (§4.1): upgrade, handshake, rate limiting,
// heartbeat liveness, and per-frame decrypt/dispatch/encrypt.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lipsignal/lipsignal-go/crypto/envelope"
	"github.com/lipsignal/lipsignal-go/dispatch"
	"github.com/lipsignal/lipsignal-go/fserrors"
	"github.com/lipsignal/lipsignal-go/internal/contextutil"
	"github.com/lipsignal/lipsignal-go/observability"
	"github.com/lipsignal/lipsignal-go/ratelimit"
	"github.com/lipsignal/lipsignal-go/realtime/ws"
	"github.com/lipsignal/lipsignal-go/session"
)

// handshakeTimeout bounds each half of the key-exchange round trip.
const handshakeTimeout = 10 * time.Second

// rateLimitBanCloseCode is the websocket close code sent when a peer
// is banned by the rate limiter (§4.3).
const rateLimitBanCloseCode = 4008

type handshakeMessage struct {
	MsgType         string `json:"msg_type"`
	ServerPublicKey string `json:"server_public_key,omitempty"`
	Salt            string `json:"salt,omitempty"`
	ClientPublicKey string `json:"client_public_key,omitempty"`
}

// Server terminates websocket connections and feeds decrypted frames
// to a dispatch.Dispatcher.
type Server struct {
	cfg        Config
	dispatcher *dispatch.Dispatcher
	registry   *session.Registry
	limiter    *ratelimit.Limiter
	obs        observability.Observer
	logger     *log.Logger
}

// New builds a Server. obs and logger may be nil; nil falls back to
// NoopObserver and a logger writing to the process's standard error,
// matching the tunnel server's default wiring.
func New(cfg Config, dispatcher *dispatch.Dispatcher, registry *session.Registry, limiter *ratelimit.Limiter, obs observability.Observer, logger *log.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if obs == nil {
		obs = observability.NoopObserver
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Server{cfg: cfg, dispatcher: dispatcher, registry: registry, limiter: limiter, obs: obs, logger: logger}
}

// Register installs the websocket endpoint on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc(s.cfg.Path, s.handleWS)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	checkOrigin := ws.NewOriginChecker(s.cfg.AllowedOrigins, s.cfg.AllowNoOrigin)
	if !checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}
	conn, err := ws.Upgrade(w, r, ws.UpgraderOptions{
		ReadBufferSize:  s.cfg.ReadBufferSize,
		WriteBufferSize: s.cfg.WriteBufferSize,
		CheckOrigin:     checkOrigin,
	})
	if err != nil {
		s.logger.Printf("gateway: upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	go s.serveConn(conn, r.RemoteAddr)
}

// serveConn owns one connection end to end: handshake, then the
// decrypt/dispatch/encrypt loop, then cleanup. One goroutine per
// connection, plus one heartbeat watchdog goroutine.
func (s *Server) serveConn(conn *ws.Conn, remoteAddr string) {
	defer conn.Close()

	sock := newSocketAdapter(conn, remoteAddr, 10*time.Second)
	sess, err := s.handshake(conn, sock)
	if err != nil {
		s.obs.Handshake(observability.HandshakeResultFail)
		s.logger.Printf("gateway: handshake failed from %s: %v", remoteAddr, err)
		return
	}
	s.obs.Handshake(observability.HandshakeResultOK)
	s.obs.ConnCount(s.registry.Count())

	var lastActivity atomic.Int64
	lastActivity.Store(time.Now().UnixNano())

	heartbeatCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go s.heartbeatWatchdog(heartbeatCtx, conn, &lastActivity)

	defer s.cleanup(sess, remoteAddr)

	readCtx := context.Background()
	for {
		_, raw, err := conn.ReadMessage(readCtx)
		if err != nil {
			return
		}
		lastActivity.Store(time.Now().UnixNano())

		if s.limiter != nil {
			now := time.Now()
			if s.limiter.IsBanned(remoteAddr, now) {
				s.obs.RateLimitBan()
				conn.CloseWithStatus(rateLimitBanCloseCode, "rate limited")
				return
			}
			if !s.limiter.Allow(remoteAddr, now) {
				s.obs.RateLimitBan()
				conn.CloseWithStatus(rateLimitBanCloseCode, "rate limited")
				return
			}
		}

		out, handled := s.handleFrame(context.Background(), sess, raw, time.Now())
		if !handled {
			continue
		}
		if err := sock.Send(out); err != nil {
			return
		}
	}
}

// handshake performs the single-round-trip X25519/HKDF exchange
// (§4.1): the server speaks first with its ephemeral public key and
// salt, then reads the client's public key and derives the shared
// session key.
func (s *Server) handshake(conn *ws.Conn, sock *socketAdapter) (*session.Session, error) {
	hs, err := envelope.NewServerHandshake()
	if err != nil {
		return nil, err
	}
	greeting := handshakeMessage{
		MsgType:         "handshake",
		ServerPublicKey: encodeKey(hs.PublicKey()),
		Salt:            encodeKey(hs.Salt[:]),
	}
	body, err := json.Marshal(greeting)
	if err != nil {
		return nil, err
	}
	ctx, cancel := contextutil.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()
	if err := conn.WriteMessage(ctx, websocket.TextMessage, body); err != nil {
		return nil, err
	}

	readCtx, readCancel := contextutil.WithTimeout(context.Background(), handshakeTimeout)
	defer readCancel()
	_, raw, err := conn.ReadMessage(readCtx)
	if err != nil {
		return nil, err
	}
	var reply handshakeMessage
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, err
	}
	clientPub, err := decodeKey(reply.ClientPublicKey)
	if err != nil {
		return nil, err
	}
	key, err := hs.DeriveSessionKey(clientPub)
	if err != nil {
		return nil, err
	}
	return &session.Session{Socket: sock, AESKey: key}, nil
}

// handleFrame decrypts one inbound frame, answers a ping without
// involving the dispatcher, otherwise dispatches and re-encrypts the
// reply. A malformed envelope or a failed decrypt still yields an
// encrypted invalid-message-format reply (§4.1, §7), since the
// session key needed to encrypt it already exists; only a failure in
// that reply path itself returns handled=false.
func (s *Server) handleFrame(ctx context.Context, sess *session.Session, raw []byte, now time.Time) ([]byte, bool) {
	var frame envelope.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return s.encryptReply(sess, invalidMessageFormatReply(now))
	}
	plaintext, err := envelope.Decrypt(sess.AESKey, frame)
	if err != nil {
		return s.encryptReply(sess, invalidMessageFormatReply(now))
	}

	var probe struct {
		MsgType string `json:"msg_type"`
	}
	_ = json.Unmarshal(plaintext, &probe)
	if probe.MsgType == "ping" {
		return s.encryptReply(sess, envelope.NewSuccessReply("pong", map[string]any{}, now))
	}

	reply := s.dispatcher.Dispatch(ctx, sess, plaintext, now)
	return s.encryptReply(sess, reply)
}

// invalidMessageFormatReply is the structured error sent back for an
// envelope that cannot even be parsed or decrypted (§7).
func invalidMessageFormatReply(now time.Time) envelope.Reply {
	return envelope.NewErrorReply("", string(fserrors.CodeInvalidMessageFormat), "Invalid message format", now)
}

func (s *Server) encryptReply(sess *session.Session, reply envelope.Reply) ([]byte, bool) {
	outFrame, err := envelope.EncryptReply(sess.AESKey, reply)
	if err != nil {
		return nil, false
	}
	body, err := json.Marshal(outFrame)
	if err != nil {
		return nil, false
	}
	return body, true
}

// heartbeatWatchdog closes the connection if no frame has been
// received within HeartbeatTimeout (§4.1's liveness check).
func (s *Server) heartbeatWatchdog(ctx context.Context, conn *ws.Conn, lastActivity *atomic.Int64) {
	interval := s.cfg.HeartbeatInterval
	timeout := s.cfg.HeartbeatTimeout
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			last := time.Unix(0, lastActivity.Load())
			if time.Since(last) > timeout {
				conn.CloseWithStatus(websocket.CloseGoingAway, "heartbeat timeout")
				return
			}
		}
	}
}

func (s *Server) cleanup(sess *session.Session, remoteAddr string) {
	if sess.UserID != "" {
		if cur, ok := s.registry.Get(sess.UserID); ok && cur.Socket == sess.Socket {
			if cur.ServerPC != nil {
				_ = cur.ServerPC.Close()
			}
			s.registry.Remove(sess.UserID, cur)
		}
	}
	if s.limiter != nil && !s.limiter.IsBanned(remoteAddr, time.Now()) {
		s.limiter.Forget(remoteAddr)
	}
	s.obs.ConnCount(s.registry.Count())
}
