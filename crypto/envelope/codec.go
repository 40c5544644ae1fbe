package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const nonceLen = 12

// Frame is the wire representation of an encrypted envelope (§4.1,
// §4.2): base64-encoded nonce, ciphertext and GCM tag.
type Frame struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
	Tag        string `json:"tag"`
}

// IsEnvelope reports whether a decoded JSON object carries all three
// envelope fields, the detection rule given in §4.1.
func IsEnvelope(raw map[string]json.RawMessage) bool {
	_, hasNonce := raw["nonce"]
	_, hasCiphertext := raw["ciphertext"]
	_, hasTag := raw["tag"]
	return hasNonce && hasCiphertext && hasTag
}

// Encrypt seals plaintext under key with a fresh random 96-bit nonce
// (§4.2). Go's cipher.AEAD seal output already appends the GCM tag to
// the ciphertext; Frame splits it back out for the wire shape.
func Encrypt(key [32]byte, plaintext []byte) (Frame, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return Frame{}, fmt.Errorf("envelope: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return Frame{}, fmt.Errorf("envelope: new gcm: %w", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return Frame{}, fmt.Errorf("envelope: nonce: %w", err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	tagLen := gcm.Overhead()
	ciphertext := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]
	return Frame{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Tag:        base64.StdEncoding.EncodeToString(tag),
	}, nil
}

// Decrypt opens a Frame under key. Any failure (bad base64, wrong
// key, tag mismatch, truncation) is a single fatal decode error for
// the current frame, per §4.2.
func Decrypt(key [32]byte, f Frame) ([]byte, error) {
	nonce, err := base64.StdEncoding.DecodeString(f.Nonce)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(f.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode ciphertext: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(f.Tag)
	if err != nil {
		return nil, fmt.Errorf("envelope: decode tag: %w", err)
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("envelope: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: new gcm: %w", err)
	}
	sealed := append(append([]byte{}, ciphertext...), tag...)
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("envelope: open: %w", err)
	}
	return plaintext, nil
}

// Reply is the structured message shape every handler reply uses
// (§4.2). Payload is set on success, ErrorCode/ErrorMessage on
// failure; MsgType is either the originating type or a
// domain-specific response type.
type Reply struct {
	MessageID    string      `json:"message_id"`
	Timestamp    string      `json:"timestamp"`
	MsgType      string      `json:"msg_type"`
	Success      bool        `json:"success"`
	Payload      interface{} `json:"payload,omitempty"`
	ErrorCode    string      `json:"error_code,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// NewSuccessReply builds a success Reply with a fresh message_id and
// the current UTC time in ISO-8601 (§4.2).
func NewSuccessReply(msgType string, payload interface{}, now time.Time) Reply {
	return Reply{
		MessageID: uuid.NewString(),
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		MsgType:   msgType,
		Success:   true,
		Payload:   payload,
	}
}

// NewErrorReply builds a failure Reply (§4.2, §7).
func NewErrorReply(msgType, code, message string, now time.Time) Reply {
	return Reply{
		MessageID:    uuid.NewString(),
		Timestamp:    now.UTC().Format(time.RFC3339Nano),
		MsgType:      msgType,
		Success:      false,
		ErrorCode:    code,
		ErrorMessage: message,
	}
}

// EncryptReply marshals and encrypts a Reply for the wire.
func EncryptReply(key [32]byte, r Reply) (Frame, error) {
	body, err := json.Marshal(r)
	if err != nil {
		return Frame{}, fmt.Errorf("envelope: marshal reply: %w", err)
	}
	return Encrypt(key, body)
}
