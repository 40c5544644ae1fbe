// Package observability defines the metric-event surface emitted by
// the gateway, auth service, signaling router, and media terminus.
// Consumers obtain a concrete Observer from the prom subpackage, or
// use NoopObserver when metrics are disabled.
package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

type HandshakeResult string

const (
	HandshakeResultOK   HandshakeResult = "ok"
	HandshakeResultFail HandshakeResult = "fail"
)

type AuthOp string

const (
	AuthOpAuthenticate AuthOp = "authenticate"
	AuthOpSignup       AuthOp = "signup"
	AuthOpRefresh      AuthOp = "refresh_token"
	AuthOpLogout       AuthOp = "logout"
)

type AuthResult string

const (
	AuthResultOK   AuthResult = "ok"
	AuthResultFail AuthResult = "fail"
)

type SignalingMsgType string

const (
	SignalingOffer        SignalingMsgType = "offer"
	SignalingAnswer       SignalingMsgType = "answer"
	SignalingICECandidate SignalingMsgType = "ice_candidate"
)

type SignalingResult string

const (
	SignalingResultForwarded SignalingResult = "forwarded"
	SignalingResultServer    SignalingResult = "server"
	SignalingResultFail      SignalingResult = "fail"
)

type InferencePool string

const (
	InferencePoolVideo InferencePool = "video"
	InferencePoolAudio InferencePool = "audio"
)

// Observer receives every metric-worthy event in the server.
type Observer interface {
	ConnCount(n int64)
	Handshake(result HandshakeResult)
	RateLimitBan()
	Auth(op AuthOp, result AuthResult)
	Signaling(msgType SignalingMsgType, result SignalingResult)
	CallStarted()
	CallEnded(d time.Duration)
	InferenceLatency(pool InferencePool, d time.Duration)
	TranscriptAppended(source string)
}

type noopObserver struct{}

func (noopObserver) ConnCount(int64)                                     {}
func (noopObserver) Handshake(HandshakeResult)                           {}
func (noopObserver) RateLimitBan()                                       {}
func (noopObserver) Auth(AuthOp, AuthResult)                             {}
func (noopObserver) Signaling(SignalingMsgType, SignalingResult)         {}
func (noopObserver) CallStarted()                                        {}
func (noopObserver) CallEnded(time.Duration)                             {}
func (noopObserver) InferenceLatency(InferencePool, time.Duration)       {}
func (noopObserver) TranscriptAppended(string)                           {}

// NoopObserver is a zero-cost observer used when metrics are disabled.
var NoopObserver Observer = noopObserver{}

// AtomicObserver swaps its delegate at runtime, following the
// tunnel server's pattern for toggling metrics on and off without a
// restart.
type AtomicObserver struct {
	once sync.Once
	v    atomic.Value
}

type observerHolder struct {
	obs Observer
}

func NewAtomicObserver() *AtomicObserver {
	a := &AtomicObserver{}
	a.init()
	return a
}

func (a *AtomicObserver) init() {
	a.once.Do(func() { a.v.Store(&observerHolder{obs: NoopObserver}) })
}

// Set replaces the delegate, falling back to the no-op observer on nil.
func (a *AtomicObserver) Set(obs Observer) {
	if obs == nil {
		obs = NoopObserver
	}
	a.init()
	a.v.Store(&observerHolder{obs: obs})
}

func (a *AtomicObserver) load() Observer {
	a.init()
	return a.v.Load().(*observerHolder).obs
}

func (a *AtomicObserver) ConnCount(n int64)             { a.load().ConnCount(n) }
func (a *AtomicObserver) Handshake(r HandshakeResult)   { a.load().Handshake(r) }
func (a *AtomicObserver) RateLimitBan()                 { a.load().RateLimitBan() }
func (a *AtomicObserver) Auth(op AuthOp, r AuthResult)  { a.load().Auth(op, r) }
func (a *AtomicObserver) Signaling(m SignalingMsgType, r SignalingResult) {
	a.load().Signaling(m, r)
}
func (a *AtomicObserver) CallStarted()             { a.load().CallStarted() }
func (a *AtomicObserver) CallEnded(d time.Duration) { a.load().CallEnded(d) }
func (a *AtomicObserver) InferenceLatency(p InferencePool, d time.Duration) {
	a.load().InferenceLatency(p, d)
}
func (a *AtomicObserver) TranscriptAppended(source string) { a.load().TranscriptAppended(source) }
