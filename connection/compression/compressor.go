package compression

import (
	"bytes"
	"compress/zlib"
	"fmt"
)

// Compressor produces the peer side of a zlib stream, one sync-flushed chunk per message. It is
// what mock gateways use to talk to a Decompressor.
type Compressor struct {
	buf    bytes.Buffer
	writer *zlib.Writer
}

func NewCompressor() *Compressor {
	c := &Compressor{}
	c.writer = zlib.NewWriter(&c.buf)
	return c
}

func (c *Compressor) Compress(message []byte) ([]byte, error) {
	if _, err := c.writer.Write(message); err != nil {
		return nil, fmt.Errorf("failed to compress message: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush compressed message: %w", err)
	}

	chunk := make([]byte, c.buf.Len())
	copy(chunk, c.buf.Bytes())
	c.buf.Reset()

	return chunk, nil
}
