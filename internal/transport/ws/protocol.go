package ws

import (
	"encoding/json"
	"fmt"
	"time"

	"voxelgen/internal/voxel"
)

// ProtocolVersion is bumped on incompatible message changes.
const ProtocolVersion = 1

type MessageType string

const (
	MessageHello        MessageType = "hello"
	MessageWelcome      MessageType = "welcome"
	MessageChunkRequest MessageType = "chunkRequest"
	MessageError        MessageType = "error"
)

// Envelope wraps every text frame. Chunk data travels in binary frames that
// hold one export record each.
type Envelope struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type Hello struct {
	ProtocolVersion int    `json:"protocolVersion"`
	Client          string `json:"client,omitempty"`
	MaxQueue        int    `json:"maxQueue,omitempty"`
}

type Welcome struct {
	ProtocolVersion int    `json:"protocolVersion"`
	Terrain         string `json:"terrain"`
	Generator       string `json:"generator"`
	Seed            uint32 `json:"seed"`
	Digest          string `json:"digest"`
	ChunkSize       int    `json:"chunkSize"`
	PaddedSize      int    `json:"paddedSize"`
	MaxQueue        int    `json:"maxQueue"`
}

type ChunkRequest struct {
	Pos voxel.ChunkPos `json:"pos"`
}

// Error codes carried in ErrorReply.
const (
	CodeBadRequest = "bad_request"
	CodeBusy       = "busy"
	CodeInternal   = "internal"
)

type ErrorReply struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Pos     *voxel.ChunkPos `json:"pos,omitempty"`
}

func (e *ErrorReply) Error() string {
	if e.Pos != nil {
		return fmt.Sprintf("%s: %s (chunk %v)", e.Code, e.Message, *e.Pos)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func encodeEnvelope(t MessageType, seq uint64, payload any) ([]byte, error) {
	env := Envelope{Type: t, Timestamp: time.Now().UTC(), Seq: seq}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

func decodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}
