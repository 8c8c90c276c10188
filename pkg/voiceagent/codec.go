package voiceagent

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/bytedance/sonic"
)

// frameHeaderSize is the length of the big-endian metadata length prefix.
const frameHeaderSize = 4

// Frame is one inbound wire message:
//
//	[u32 big-endian metadataLength][UTF-8 JSON metadata][payload bytes]
//
// Outbound traffic is never framed. Control messages go out as plain JSON
// text and audio chunks as plain binary messages.
type Frame struct {
	Metadata Metadata
	Payload  []byte
}

// Type returns the metadata type discriminator.
func (f *Frame) Type() string {
	return f.Metadata.Type()
}

// DecodeFrame splits an inbound message into metadata and payload. It fails
// with ErrMalformedFrame when the buffer is shorter than the declared
// metadata or the metadata is not a JSON object.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < frameHeaderSize {
		return nil, NewMalformedFrameError(fmt.Sprintf("frame too short: %d bytes", len(data)), nil)
	}

	metadataLength := uint64(binary.BigEndian.Uint32(data[:frameHeaderSize]))
	end := frameHeaderSize + metadataLength
	if uint64(len(data)) < end {
		return nil, NewMalformedFrameError(
			fmt.Sprintf("metadata length %d exceeds frame size %d", metadataLength, len(data)), nil).
			AddDetail("metadata_length", metadataLength)
	}

	raw := data[frameHeaderSize:end]
	if !utf8.Valid(raw) {
		return nil, NewMalformedFrameError("metadata is not valid UTF-8", nil)
	}

	var metadata Metadata
	if err := sonic.Unmarshal(raw, &metadata); err != nil {
		return nil, NewMalformedFrameError("metadata is not valid JSON", err)
	}
	if metadata == nil {
		return nil, NewMalformedFrameError("metadata is not a JSON object", nil)
	}

	payload := make([]byte, uint64(len(data))-end)
	copy(payload, data[end:])

	return &Frame{Metadata: metadata, Payload: payload}, nil
}

// EncodeFrame builds an inbound-shaped frame. The client never sends frames;
// this exists for agents, fixtures and tooling that speak to the client.
func EncodeFrame(metadata Metadata, payload []byte) ([]byte, error) {
	raw, err := sonic.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if uint64(len(raw)) > math.MaxUint32 {
		return nil, fmt.Errorf("metadata too large: %d bytes", len(raw))
	}

	buf := make([]byte, frameHeaderSize+len(raw)+len(payload))
	binary.BigEndian.PutUint32(buf[:frameHeaderSize], uint32(len(raw)))
	copy(buf[frameHeaderSize:], raw)
	copy(buf[frameHeaderSize+len(raw):], payload)
	return buf, nil
}

// EncodeControl serializes an outbound control message to JSON text.
func EncodeControl(msg ControlMessage) ([]byte, error) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to stringify message: %w", err)
	}
	return data, nil
}
