// File: codec/framer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Framers decide where a frame ends inside accumulated bytes.

package codec

import (
	"bytes"
	"fmt"

	"github.com/momentics/hioload-net/api"
)

// Framer inspects the readable bytes. When a frame is complete it returns
// the frame length, how many bytes the frame occupies including any
// delimiter, and ok. An error means the stream is unframeable.
type Framer interface {
	Frame(readable []byte) (frameLen, consumed int, ok bool, err error)
}

// FixedLength frames every n bytes.
type FixedLength int

func (n FixedLength) Frame(readable []byte) (int, int, bool, error) {
	if n <= 0 {
		return 0, 0, false, fmt.Errorf("fixed length %d: %w", int(n), api.ErrInvalidArgument)
	}
	if len(readable) < int(n) {
		return 0, 0, false, nil
	}
	return int(n), int(n), true, nil
}

// Delimiter frames on a byte sequence. The delimiter is stripped from the
// frame unless KeepDelimiter is set.
type Delimiter struct {
	Delim         []byte
	MaxLength     int
	KeepDelimiter bool
}

func (d Delimiter) Frame(readable []byte) (int, int, bool, error) {
	if len(d.Delim) == 0 {
		return 0, 0, false, fmt.Errorf("empty delimiter: %w", api.ErrInvalidArgument)
	}
	idx := bytes.Index(readable, d.Delim)
	if idx < 0 {
		if d.MaxLength > 0 && len(readable) > d.MaxLength {
			return 0, 0, false, d.tooLong(len(readable))
		}
		return 0, 0, false, nil
	}
	if d.MaxLength > 0 && idx > d.MaxLength {
		return 0, 0, false, d.tooLong(idx)
	}
	consumed := idx + len(d.Delim)
	if d.KeepDelimiter {
		return consumed, consumed, true, nil
	}
	return idx, consumed, true, nil
}

func (d Delimiter) tooLong(n int) error {
	return api.NewError(api.ErrCodeResourceExhausted, api.ErrFrameTooLong, "frame exceeds maximum length").
		WithContext("length", n).
		WithContext("max", d.MaxLength)
}

// LineFramer frames on "\n" or "\r\n", stripping the line ending.
type LineFramer struct {
	MaxLength int
}

func (l LineFramer) Frame(readable []byte) (int, int, bool, error) {
	frameLen, consumed, ok, err := Delimiter{Delim: []byte{'\n'}, MaxLength: l.MaxLength}.Frame(readable)
	if !ok || err != nil {
		return frameLen, consumed, ok, err
	}
	if frameLen > 0 && readable[frameLen-1] == '\r' {
		frameLen--
	}
	return frameLen, consumed, true, nil
}
