// Package frames implements the multipart wire unit:
//
//	[envelope frames...] [empty separator] [kind tag] [payload frames...]
//
// A unit travels as one transport message whose payload is the frame list
// encoded as a uvarint frame count followed by uvarint-length-prefixed frames.
package frames

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/multiformats/go-varint"
)

// Tag selects how the payload frames of a unit are decoded.
type Tag byte

const (
	// Deliver marks a plain request or broadcast, decoded with the receive type.
	Deliver Tag = 'D'
	// Reply marks a reply travelling back along an envelope, decoded with the reply type.
	Reply Tag = 'R'
)

func (t Tag) String() string {
	switch t {
	case Deliver:
		return "deliver"
	case Reply:
		return "reply"
	default:
		return fmt.Sprintf("tag(%q)", byte(t))
	}
}

// MaxFrames caps the frame count accepted by Decode.
const MaxFrames = 1 << 16

var (
	ErrNoSeparator = errors.New("relayflow: wire unit has no separator")
	ErrBadTag      = errors.New("relayflow: wire unit has an unknown kind tag")
	ErrTruncated   = errors.New("relayflow: truncated frame data")
)

// Unit is one logical transmission.
type Unit struct {
	Envelope [][]byte
	Tag      Tag
	Payloads [][]byte
}

// Frames flattens the unit into its multipart form.
func (u Unit) Frames() [][]byte {
	out := make([][]byte, 0, len(u.Envelope)+2+len(u.Payloads))
	out = append(out, u.Envelope...)
	out = append(out, []byte{}, []byte{byte(u.Tag)})
	return append(out, u.Payloads...)
}

// Split parses a multipart message. The first empty frame ends the envelope;
// the frame after it must be a known tag.
func Split(parts [][]byte) (Unit, error) {
	sep := -1
	for i, p := range parts {
		if len(p) == 0 {
			sep = i
			break
		}
	}
	if sep < 0 {
		return Unit{}, ErrNoSeparator
	}
	if sep+1 >= len(parts) || len(parts[sep+1]) != 1 {
		return Unit{}, ErrBadTag
	}
	tag := Tag(parts[sep+1][0])
	if tag != Deliver && tag != Reply {
		return Unit{}, ErrBadTag
	}
	return Unit{
		Envelope: CopyEnvelope(parts[:sep]),
		Tag:      tag,
		Payloads: parts[sep+2:],
	}, nil
}

// CopyEnvelope returns a deep copy so that later mutation of either side
// cannot reorder or alter routing frames.
func CopyEnvelope(env [][]byte) [][]byte {
	if len(env) == 0 {
		return nil
	}
	out := make([][]byte, len(env))
	for i, f := range env {
		out[i] = bytes.Clone(f)
		if out[i] == nil {
			out[i] = []byte{}
		}
	}
	return out
}

// Encode serialises a multipart message into one transport payload.
func Encode(parts [][]byte) []byte {
	size := varint.UvarintSize(uint64(len(parts)))
	for _, p := range parts {
		size += varint.UvarintSize(uint64(len(p))) + len(p)
	}
	buf := make([]byte, size)
	n := varint.PutUvarint(buf, uint64(len(parts)))
	for _, p := range parts {
		n += varint.PutUvarint(buf[n:], uint64(len(p)))
		n += copy(buf[n:], p)
	}
	return buf
}

// Decode is the inverse of Encode.
func Decode(data []byte) ([][]byte, error) {
	count, n, err := varint.FromUvarint(data)
	if err != nil {
		return nil, fmt.Errorf("frame count: %w", err)
	}
	if count > MaxFrames {
		return nil, fmt.Errorf("relayflow: %d frames exceeds limit %d", count, MaxFrames)
	}
	data = data[n:]
	parts := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		l, n, err := varint.FromUvarint(data)
		if err != nil {
			return nil, fmt.Errorf("frame %d length: %w", i, err)
		}
		data = data[n:]
		if uint64(len(data)) < l {
			return nil, ErrTruncated
		}
		parts = append(parts, data[:l:l])
		data = data[l:]
	}
	if len(data) != 0 {
		return nil, fmt.Errorf("relayflow: %d trailing bytes after frames", len(data))
	}
	return parts, nil
}
