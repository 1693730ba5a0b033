package typing

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const decodeBufSize = 4096

// DecodeError means the byte stream could not be turned into text. It is fatal
// to the stream that produced it.
type DecodeError struct {
	Charset string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Charset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder turns a chunked byte stream into text. Bytes of a multi-byte sequence
// that is cut off at the end of one chunk are held back and completed by the next.
// A Decoder belongs to a single stream.
type Decoder struct {
	charset string
	t       transform.Transformer
	pending []byte
	buf     []byte
}

// NewDecoder returns a decoder for the named charset. An empty name means UTF-8.
func NewDecoder(charset string) (*Decoder, error) {
	var enc encoding.Encoding = unicode.UTF8
	if charset != "" {
		e, err := htmlindex.Get(charset)
		if err != nil {
			return nil, &DecodeError{Charset: charset, Err: err}
		}
		enc = e
	} else {
		charset = "utf-8"
	}
	return &Decoder{
		charset: strings.ToLower(charset),
		t:       enc.NewDecoder(),
		buf:     make([]byte, decodeBufSize),
	}, nil
}

func (d *Decoder) Charset() string { return d.charset }

// Decode converts the next chunk. The returned text never ends in the middle of
// a character.
func (d *Decoder) Decode(chunk []byte) (string, error) {
	return d.decode(chunk, false)
}

// Flush finishes the stream. Bytes still held back are decoded as-is, so an
// incomplete sequence becomes a replacement character.
func (d *Decoder) Flush() (string, error) {
	s, err := d.decode(nil, true)
	d.t.Reset()
	return s, err
}

// Pending reports how many bytes are held back waiting for the next chunk.
func (d *Decoder) Pending() int { return len(d.pending) }

func (d *Decoder) decode(chunk []byte, atEOF bool) (string, error) {
	src := chunk
	if len(d.pending) > 0 {
		src = append(d.pending, chunk...)
		d.pending = nil
	}

	var out strings.Builder
	for {
		nDst, nSrc, err := d.t.Transform(d.buf, src, atEOF)
		out.Write(d.buf[:nDst])
		src = src[nSrc:]

		switch {
		case err == nil:
			return out.String(), nil
		case errors.Is(err, transform.ErrShortDst):
			if nDst == 0 && nSrc == 0 {
				d.buf = make([]byte, 2*len(d.buf))
			}
		case errors.Is(err, transform.ErrShortSrc):
			if atEOF {
				return out.String(), &DecodeError{Charset: d.charset, Err: err}
			}
			d.pending = append([]byte(nil), src...)
			return out.String(), nil
		default:
			return out.String(), &DecodeError{Charset: d.charset, Err: err}
		}
	}
}
