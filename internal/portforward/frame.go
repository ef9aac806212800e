// Package portforward implements the upgraded-connection framed
// multiplexer behind the port-forward sub-resource: after a 101 upgrade,
// one socket carries many TCP streams, each one addressed by a
// single-byte stream id and framed as [stream_id|flags|length|payload].
package portforward

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

// maxPayload is the largest payload a single frame can carry: length is
// encoded as a big-endian uint16, so 65535 is the hard ceiling.
const maxPayload = 65535

// frameHeaderLen is the fixed [stream_id|flags|length] prefix, in bytes.
const frameHeaderLen = 4

// Flag values carried in a frame's flags byte. The core protocol only
// ever needs "data"; flagAck marks the empty acknowledgment frame every
// stream gets immediately after upgrade.
const (
	flagData byte = 0
	flagAck  byte = 1
)

// Frame is one decoded unit of the framed protocol.
type Frame struct {
	StreamID byte
	Flags    byte
	Payload  []byte
}

// Construct serializes a frame. len(payload) must be <= 65535; longer
// payloads must be split by the caller before calling Construct.
func Construct(streamID byte, payload []byte) ([]byte, error) {
	if len(payload) > maxPayload {
		return nil, errors.Errorf("payload of %d bytes exceeds the %d byte frame limit", len(payload), maxPayload)
	}
	out := make([]byte, frameHeaderLen+len(payload))
	out[0] = streamID
	out[1] = flagData
	out[2] = byte(len(payload) >> 8)
	out[3] = byte(len(payload))
	copy(out[frameHeaderLen:], payload)
	return out, nil
}

// constructAck serializes the empty acknowledgment frame a stream emits
// once, immediately after upgrade.
func constructAck(streamID byte) []byte {
	return []byte{streamID, flagAck, 0, 0}
}

// Parse decodes exactly one frame from b. It is the left-inverse of
// Construct: Parse(Construct(id, data)) == (id, data, nil) for every
// id in [0,255] and |data| <= 65535. A buffer shorter than the header,
// or shorter than the header plus its declared length, is an error
// rather than a truncated frame; callers must not dispatch partial
// frames.
func Parse(b []byte) (Frame, error) {
	if len(b) < frameHeaderLen {
		return Frame{}, errors.Errorf("frame header needs %d bytes, got %d", frameHeaderLen, len(b))
	}
	length := int(b[2])<<8 | int(b[3])
	if len(b) < frameHeaderLen+length {
		return Frame{}, errors.Errorf("frame declares %d byte payload but only %d bytes available", length, len(b)-frameHeaderLen)
	}
	payload := make([]byte, length)
	copy(payload, b[frameHeaderLen:frameHeaderLen+length])
	return Frame{StreamID: b[0], Flags: b[1], Payload: payload}, nil
}

// frameReader buffers partial reads off an underlying connection until a
// full frame is available: frames are atomic, so nothing is dispatched
// until the declared payload has fully arrived.
type frameReader struct {
	r *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// ReadFrame blocks until one complete frame has been read, or returns the
// underlying read error (including io.EOF on clean close).
func (fr *frameReader) ReadFrame() (Frame, error) {
	header := make([]byte, frameHeaderLen)
	if _, err := io.ReadFull(fr.r, header); err != nil {
		return Frame{}, err
	}
	length := int(header[2])<<8 | int(header[3])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{StreamID: header[0], Flags: header[1], Payload: payload}, nil
}
