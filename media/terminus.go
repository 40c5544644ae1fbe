// Package media implements the server-side WebRTC Media Terminus
// (§4.8): it answers a "server"-targeted offer, pulls RTP off the
// inbound video/audio tracks, and feeds the two inference pipelines.
// Actual model inference and codec decode are pluggable
// (inference/lipread, inference/speech); this package owns only the
// PeerConnection lifecycle and the handoff into those pipelines.
package media

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/lipsignal/lipsignal-go/callstate"
	"github.com/lipsignal/lipsignal-go/crypto/envelope"
	"github.com/lipsignal/lipsignal-go/domain"
	"github.com/lipsignal/lipsignal-go/inference"
	"github.com/lipsignal/lipsignal-go/inference/lipread"
	"github.com/lipsignal/lipsignal-go/inference/speech"
	"github.com/lipsignal/lipsignal-go/observability"
	"github.com/lipsignal/lipsignal-go/repo"
	"github.com/lipsignal/lipsignal-go/session"
)

// disconnectedGrace is how long a PeerConnection is given to recover
// from ICEConnectionStateDisconnected before the terminus tears the
// call down (Q1: treat closed/failed as immediate, disconnected as a
// 5-second grace period).
const disconnectedGrace = 5 * time.Second

// sourceSampleRate is the Opus decode rate WebRTC audio tracks are
// negotiated at; AudioPCMSource.ExtractPCM decodes into PCM at this
// rate before it is resampled down to speech.TargetSampleRate.
const sourceSampleRate = 48000

// VideoFrameSource decodes and mouth-crops an RTP video payload into
// the flattened grayscale frame the lip-reading pipeline consumes.
// The video codec and face/mouth detector are out of scope; callers
// wire in whatever decoder matches the negotiated codec.
type VideoFrameSource interface {
	ExtractFrame(payload []byte) (lipFrame lipread.Frame, ok bool)
}

// AudioPCMSource decodes an RTP Opus payload into mono PCM16 at
// sourceSampleRate. The audio codec is out of scope; callers wire in
// whatever decoder matches the negotiated codec.
type AudioPCMSource interface {
	ExtractPCM(payload []byte) (pcm []int16, ok bool)
}

// Config carries Terminus's dependencies.
type Config struct {
	Registry *session.Registry
	Pending  *callstate.Tracker
	Calls    repo.Calls
	Obs      observability.Observer

	VideoPool *inference.Pool
	AudioPool *inference.Pool

	Video VideoFrameSource
	Audio AudioPCMSource
	Lip   lipread.Decoder
	STT   speech.Recognizer
	Vocab []rune

	ICEServers []string
}

// Terminus owns PeerConnection creation for server-mediated calls.
type Terminus struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer

	registry *session.Registry
	pending  *callstate.Tracker
	calls    repo.Calls
	obs      observability.Observer

	videoPool *inference.Pool
	audioPool *inference.Pool

	video VideoFrameSource
	audio AudioPCMSource
	lip   lipread.Decoder
	stt   speech.Recognizer
	vocab []rune
}

// New builds a Terminus with a fresh media engine registered for the
// codecs the negotiated offers are expected to carry.
func New(cfg Config) (*Terminus, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("media: register codecs: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))

	ice := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, url := range cfg.ICEServers {
		ice = append(ice, webrtc.ICEServer{URLs: []string{url}})
	}

	obs := cfg.Obs
	if obs == nil {
		obs = observability.NoopObserver
	}

	return &Terminus{
		api:        api,
		iceServers: ice,
		registry:   cfg.Registry,
		pending:    cfg.Pending,
		calls:      cfg.Calls,
		obs:        obs,
		videoPool:  cfg.VideoPool,
		audioPool:  cfg.AudioPool,
		video:      cfg.Video,
		audio:      cfg.Audio,
		lip:        cfg.Lip,
		stt:        cfg.STT,
		vocab:      cfg.Vocab,
	}, nil
}

// Accept implements dispatch.MediaFactory: it stands up a
// PeerConnection for the {selfID, peerID} pair, answers the offer,
// and wires track intake to the inference pools (§4.7 "server
// target", §4.8).
func (t *Terminus) Accept(ctx context.Context, selfID, peerID, offerSDP string) (string, error) {
	pc, err := t.api.NewPeerConnection(webrtc.Configuration{ICEServers: t.iceServers})
	if err != nil {
		return "", fmt.Errorf("media: new peer connection: %w", err)
	}

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("media: add video transceiver: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("media: add audio transceiver: %w", err)
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		pref := domain.DefaultModelPreference
		if s, ok := t.registry.Get(selfID); ok && s.ModelPreference != "" {
			pref = s.ModelPreference
		}
		switch {
		case remote.Kind() == webrtc.RTPCodecTypeVideo && pref == domain.ModelPreferenceLip:
			go t.pumpVideo(selfID, peerID, remote)
		case remote.Kind() == webrtc.RTPCodecTypeAudio && pref == domain.ModelPreferenceVosk:
			go t.pumpAudio(selfID, peerID, remote)
		}
	})

	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		t.handleICEStateChange(selfID, peerID, pc, s)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  stripRTX(offerSDP),
	}); err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("media: set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("media: create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return "", fmt.Errorf("media: set local description: %w", err)
	}
	<-gatherComplete

	t.registry.SetServerPC(selfID, pc)
	return pc.LocalDescription().SDP, nil
}

// handleICEStateChange implements the resolved Open Question Q1:
// Closed and Failed terminate the call immediately; Disconnected
// waits disconnectedGrace for recovery before rechecking.
func (t *Terminus) handleICEStateChange(selfID, peerID string, pc *webrtc.PeerConnection, s webrtc.ICEConnectionState) {
	switch s {
	case webrtc.ICEConnectionStateClosed, webrtc.ICEConnectionStateFailed:
		t.endCall(selfID, peerID, pc)
	case webrtc.ICEConnectionStateDisconnected:
		go func() {
			time.Sleep(disconnectedGrace)
			if pc.ICEConnectionState() == webrtc.ICEConnectionStateDisconnected {
				t.endCall(selfID, peerID, pc)
			}
		}()
	}
}

func (t *Terminus) endCall(selfID, peerID string, pc *webrtc.PeerConnection) {
	if pc != nil {
		_ = pc.Close()
	}
	_ = t.pending.End(context.Background(), selfID, peerID, time.Now())
	t.obs.CallEnded(0)
}

// pumpVideo accumulates standardized frames into a SequenceLen
// window and runs one CTC decode per full window (§4.8).
func (t *Terminus) pumpVideo(selfID, peerID string, track *webrtc.TrackRemote) {
	if t.video == nil || t.lip == nil || t.videoPool == nil {
		return
	}
	buf := lipread.NewSequenceBuffer()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		frame, ok := t.video.ExtractFrame(pkt.Payload)
		if !ok {
			continue
		}
		buf.Push(lipread.Standardize(frame))
		if !buf.Ready() {
			continue
		}
		sequence := buf.Take()
		_ = t.videoPool.Run(context.Background(), func() error {
			start := time.Now()
			logProbs, err := t.lip.Predict(sequence)
			if err != nil {
				return err
			}
			text := lipread.DecodeCTCBeamSearch(logProbs, t.vocab, lipread.BeamWidth)
			t.obs.InferenceLatency(observability.InferencePoolVideo, time.Since(start))
			if text != "" {
				t.relayTranscript(selfID, peerID, text, domain.TranscriptSourceLip, time.Now())
			}
			return nil
		})
	}
}

// pumpAudio resamples inbound PCM to 16kHz mono, accumulates
// TargetChunkMS windows, and runs one recognize call per chunk
// (§4.8).
func (t *Terminus) pumpAudio(selfID, peerID string, track *webrtc.TrackRemote) {
	if t.audio == nil || t.stt == nil || t.audioPool == nil {
		return
	}
	resampler, err := speech.NewResampler(sourceSampleRate)
	if err != nil {
		return
	}
	acc := speech.NewAccumulator()
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		pcm, ok := t.audio.ExtractPCM(pkt.Payload)
		if !ok {
			continue
		}
		resampled, err := resampler.Resample(pcm)
		if err != nil {
			continue
		}
		if !acc.Append(resampled) {
			continue
		}
		chunk := acc.Take()
		_ = t.audioPool.Run(context.Background(), func() error {
			start := time.Now()
			text, err := t.stt.Recognize(chunk)
			if err != nil {
				return err
			}
			t.obs.InferenceLatency(observability.InferencePoolAudio, time.Since(start))
			if text != "" {
				t.relayTranscript(selfID, peerID, text, domain.TranscriptSourceVosk, time.Now())
			}
			return nil
		})
	}
}

// relayTranscript persists one TranscriptLine against the call
// started for {selfID, peerID} and forwards it to peerID's live
// socket (§4.8, S5, P5).
func (t *Terminus) relayTranscript(selfID, peerID, text string, source domain.TranscriptSource, now time.Time) {
	callID, ok := t.pending.CallID(selfID, peerID)
	if !ok {
		return
	}
	line := domain.TranscriptLine{At: now, SpeakerID: selfID, Text: text, Source: source}
	if err := t.calls.AppendLine(context.Background(), callID, line); err != nil {
		return
	}
	t.obs.TranscriptAppended(string(source))

	target, ok := t.registry.Get(peerID)
	if !ok {
		return
	}
	reply := envelope.NewSuccessReply("lip_reading_prediction", map[string]any{
		"from":       selfID,
		"prediction": text,
	}, now)
	frame, err := envelope.EncryptReply(target.AESKey, reply)
	if err != nil {
		return
	}
	body, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = target.Socket.Send(body)
}
