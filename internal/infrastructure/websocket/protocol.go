package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Frames are JSON documents terminated by the ASCII record separator.
const recordSeparator byte = 0x1e

type MessageType int

const (
	InvocationMessage MessageType = 1
	CompletionMessage MessageType = 3
	PingMessage       MessageType = 6
	CloseMessage      MessageType = 7
)

const (
	protocolName    = "json"
	protocolVersion = 1
)

type HubMessage struct {
	Type           MessageType       `json:"type"`
	InvocationID   string            `json:"invocationId,omitempty"`
	Target         string            `json:"target,omitempty"`
	Arguments      []json.RawMessage `json:"arguments,omitempty"`
	Result         json.RawMessage   `json:"result,omitempty"`
	Error          string            `json:"error,omitempty"`
	AllowReconnect bool              `json:"allowReconnect,omitempty"`
}

type handshakeRequest struct {
	Protocol string `json:"protocol"`
	Version  int    `json:"version"`
}

type handshakeResponse struct {
	Error string `json:"error,omitempty"`
}

func encodeFrame(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, recordSeparator), nil
}

// splitFrames returns the non-empty records contained in one websocket message.
func splitFrames(data []byte) [][]byte {
	var frames [][]byte
	for _, part := range bytes.Split(data, []byte{recordSeparator}) {
		if len(bytes.TrimSpace(part)) == 0 {
			continue
		}
		frames = append(frames, part)
	}
	return frames
}

func newInvocation(id, target string, args ...interface{}) (*HubMessage, error) {
	msg := &HubMessage{Type: InvocationMessage, InvocationID: id, Target: target}
	for i, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d of %s: %w", i, target, err)
		}
		msg.Arguments = append(msg.Arguments, raw)
	}
	if msg.Arguments == nil {
		msg.Arguments = []json.RawMessage{}
	}
	return msg, nil
}

// HubError is a failed remote invocation reported by the server.
type HubError struct {
	Method  string
	Message string
}

func (e *HubError) Error() string {
	return fmt.Sprintf("hub method %s failed: %s", e.Method, e.Message)
}

// HandshakeStatusError is returned when the websocket upgrade is refused.
type HandshakeStatusError struct {
	StatusCode int
	Err        error
}

func (e *HandshakeStatusError) Error() string {
	return fmt.Sprintf("websocket handshake failed with status %d: %v", e.StatusCode, e.Err)
}

func (e *HandshakeStatusError) Unwrap() error {
	return e.Err
}

func (e *HandshakeStatusError) HTTPStatus() int {
	return e.StatusCode
}
