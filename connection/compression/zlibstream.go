/*
Package compression inflates a zlib stream that the gateway spreads across many websocket frames.
Usually each frame ends on a sync flush (00 00 ff ff) and the stream, along with its 32KB window,
lives for the whole connection. A frame can also carry a complete stream, ended by a final block
and its adler32 trailer, in which case the next frame starts a fresh one.

compress/flate latches the first read error it sees, so running out of input at the end of a frame
would break the reader for the rest of the connection. Instead we keep a copy of the last window
of output and Reset the reader with it as a preset dictionary before every message, which gives
the same result as one uninterrupted stream.
*/
package compression

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/adler32"
	"io"
)

const (
	DefaultWindowBits = 15

	// Most compressed input held back while waiting for the rest of a message
	DefaultMaxBufferedInput = 16 << 20

	minWindowBits = 8
	maxWindowBits = 15

	// gateway payloads usually expand 5-10x
	minOutputSize   = 4096
	expansionFactor = 8

	zlibHeaderSize   = 2
	zlibTrailerSize  = 4
	zlibDeflate      = 8
	zlibPresetDict   = 0x20
	zlibHeaderModulo = 31
)

var syncFlushSuffix = []byte{0x00, 0x00, 0xff, 0xff}

var (
	// ErrShortBuffer is returned by Inflate when dst filled up before the buffered input was drained
	ErrShortBuffer = errors.New("inflate output buffer exhausted")

	// ErrIncompleteMessage means the input ran out in the middle of a deflate block. It has been
	// kept and will be decompressed together with the next call.
	ErrIncompleteMessage = errors.New("compressed payload ends mid-block")

	// ErrStreamBroken is wrapped by every error once the stream can no longer be followed, after a
	// bad zlib header or too much buffered input. Only a new connection recovers.
	ErrStreamBroken = errors.New("zlib stream is unusable")

	errNothingBuffered = errors.New("no compressed input is buffered")
)

type DecompressError struct {
	Cause error
}

func (e *DecompressError) Error() string {
	return fmt.Sprintf("failed to decompress payload: %s", e.Cause)
}

func (e *DecompressError) Unwrap() error { return e.Cause }

// Decompressor is not safe for concurrent use
type Decompressor struct {
	windowBits int
	limit      int

	// compressed input of the message being inflated, header already stripped
	pending []byte
	source  *bytes.Reader
	reader  io.ReadCloser

	window   *slidingWindow
	checksum hash.Hash32

	headerRead bool
	draining   bool

	// output of the current pass over pending, only committed to the window once the message is whole
	produced int

	// a finished stream's adler32, which can straddle two frames
	awaitingTrailer bool
	trailer         []byte

	broken error

	// how many times an output buffer had to be grown, kept for tests and debugging
	grows int
}

func New(windowBits int) (*Decompressor, error) {
	if windowBits < minWindowBits || windowBits > maxWindowBits {
		return nil, fmt.Errorf("window size must be between %d and %d bits, got %d", minWindowBits, maxWindowBits, windowBits)
	}

	return &Decompressor{
		windowBits: windowBits,
		limit:      DefaultMaxBufferedInput,
		source:     bytes.NewReader(nil),
		window:     newSlidingWindow(1 << windowBits),
		checksum:   adler32.New(),
	}, nil
}

// Decompress takes the payload of one frame and returns everything it decompresses to
func (d *Decompressor) Decompress(src []byte) ([]byte, error) {
	return d.decompress(src, max(minOutputSize, expansionFactor*len(src)))
}

func (d *Decompressor) decompress(src []byte, size int) ([]byte, error) {
	if err := d.begin(src); errors.Is(err, ErrIncompleteMessage) {
		return nil, err
	} else if err != nil {
		return nil, &DecompressError{Cause: err}
	}

	out := make([]byte, 0, size)
	for {
		var err error
		out, err = d.Inflate(out)
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, ErrShortBuffer):
			out = grow(out)
			d.grows++
		case errors.Is(err, ErrIncompleteMessage):
			return nil, err
		default:
			return nil, &DecompressError{Cause: err}
		}
	}
}

// Inflate makes a single pass over the buffered input, appending to dst without ever growing it
// past cap(dst). When dst fills before the input is drained it returns ErrShortBuffer, and the
// next call, given dst back with its contents intact, carries on from the same place.
//
// On ErrIncompleteMessage whatever this message added to dst is incomplete and should be dropped;
// the next Decompress starts the message over.
func (d *Decompressor) Inflate(dst []byte) ([]byte, error) {
	if !d.draining {
		return dst, errNothingBuffered
	}
	if d.produced > len(dst) {
		d.draining = false
		return dst, fmt.Errorf("output of earlier passes over this message is missing")
	}

	for len(dst) < cap(dst) {
		n, err := d.reader.Read(dst[len(dst):cap(dst)])
		dst = dst[:len(dst)+n]
		d.produced += n

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			// final block, what follows is the adler32 trailer and maybe a new stream
			d.commit(dst)
			d.headerRead = false
			d.awaitingTrailer = true
			if err := d.readTrailer(); err != nil && !errors.Is(err, ErrIncompleteMessage) {
				return dst, err
			}
			return dst, nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			if bytes.HasSuffix(d.pending, syncFlushSuffix) {
				d.commit(dst)
				return dst, nil
			}
			d.draining = false
			d.produced = 0
			return dst, ErrIncompleteMessage
		default:
			// drop the message but keep the window, later messages may still inflate
			d.draining = false
			d.produced = 0
			d.pending = d.pending[:0]
			return dst, err
		}
	}

	return dst, ErrShortBuffer
}

// begin adds src to the pending input and readies the reader for a pass over all of it
func (d *Decompressor) begin(src []byte) error {
	if d.broken != nil {
		return d.broken
	}

	// a pass that was never finished starts over from the beginning of its message
	d.draining = false
	d.produced = 0

	if len(d.pending)+len(src) > d.limit {
		return d.fail(fmt.Errorf("more than %d bytes of compressed input buffered", d.limit))
	}
	d.pending = append(d.pending, src...)

	if err := d.readTrailer(); err != nil {
		return err
	}

	if !d.headerRead {
		if len(d.pending) < zlibHeaderSize {
			return ErrIncompleteMessage
		}
		if err := d.checkHeader(d.pending[:zlibHeaderSize]); err != nil {
			return d.fail(err)
		}
		d.pending = d.pending[zlibHeaderSize:]
		d.headerRead = true
		d.checksum.Reset()
		d.window.reset()
	}

	if len(d.pending) == 0 {
		return ErrIncompleteMessage
	}

	d.source.Reset(d.pending)
	if d.reader == nil {
		d.reader = flate.NewReaderDict(d.source, d.window.bytes())
	} else if err := d.reader.(flate.Resetter).Reset(d.source, d.window.bytes()); err != nil {
		return d.fail(fmt.Errorf("failed to reset inflate state: %w", err))
	}

	d.draining = true
	return nil
}

// commit records a finished message: its output joins the window and the checksum and whatever
// input the reader did not consume stays pending
func (d *Decompressor) commit(dst []byte) {
	output := dst[len(dst)-d.produced:]
	d.window.write(output)
	d.checksum.Write(output)

	d.pending = d.pending[len(d.pending)-d.source.Len():]
	d.produced = 0
	d.draining = false
}

func (d *Decompressor) readTrailer() error {
	if !d.awaitingTrailer {
		return nil
	}

	n := min(zlibTrailerSize-len(d.trailer), len(d.pending))
	d.trailer = append(d.trailer, d.pending[:n]...)
	d.pending = d.pending[n:]
	if len(d.trailer) < zlibTrailerSize {
		return ErrIncompleteMessage
	}

	sum := binary.BigEndian.Uint32(d.trailer)
	d.awaitingTrailer = false
	d.trailer = d.trailer[:0]

	if sum != d.checksum.Sum32() {
		return fmt.Errorf("zlib checksum mismatch: stream says %08x, inflated %08x", sum, d.checksum.Sum32())
	}
	return nil
}

func (d *Decompressor) checkHeader(header []byte) error {
	cmf, flg := header[0], header[1]

	if method := cmf & 0x0f; method != zlibDeflate {
		return fmt.Errorf("unsupported zlib compression method %d", method)
	}
	if bits := int(cmf>>4) + 8; bits > d.windowBits {
		return fmt.Errorf("zlib window of %d bits exceeds configured %d bits", bits, d.windowBits)
	}
	if (uint16(cmf)<<8|uint16(flg))%zlibHeaderModulo != 0 {
		return fmt.Errorf("zlib header checksum mismatch")
	}
	if flg&zlibPresetDict != 0 {
		return fmt.Errorf("zlib preset dictionaries are not supported")
	}

	return nil
}

func (d *Decompressor) fail(err error) error {
	d.broken = fmt.Errorf("%w: %s", ErrStreamBroken, err)
	d.pending = nil
	d.draining = false
	return d.broken
}

func grow(out []byte) []byte {
	extra := len(out)
	if extra == 0 {
		extra = minOutputSize
	}

	grown := make([]byte, len(out), cap(out)+extra)
	copy(grown, out)
	return grown
}
