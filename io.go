package mediarpc

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// Conn is a duplex message channel. Each Read returns one complete frame.
type Conn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, message []byte) error
	Close() error
}

var separator = []byte{'\n'}

// messageWriter provides thread-safe writing of JSON-RPC messages
type messageWriter struct {
	out io.Writer
	mu  sync.Mutex
}

// newMessageWriter creates a new message writer
func newMessageWriter(out io.Writer) *messageWriter {
	return &messageWriter{
		out: out,
	}
}

// write writes a message followed by a separator
func (w *messageWriter) write(message []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.out.Write(message); err != nil {
		return err
	}
	if _, err := w.out.Write(separator); err != nil {
		return err
	}

	return nil
}

// messageReader provides reading of JSON-RPC messages
type messageReader struct {
	reader *bufio.Reader
}

// newMessageReader creates a new message reader
func newMessageReader(in io.Reader) *messageReader {
	return &messageReader{
		reader: bufio.NewReader(in),
	}
}

// read reads a complete line from reader into input buffer
// handling any line prefixes correctly
func (r *messageReader) read(input *[]byte) error {
	*input = (*input)[:0]

	for proceed := true; proceed; {
		line, isPrefix, err := r.reader.ReadLine()
		if err != nil {
			return err
		}

		*input = append(*input, line...)
		proceed = isPrefix
	}

	return nil
}

// streamConn frames messages on a byte stream, one message per line.
type streamConn struct {
	reader *messageReader
	writer *messageWriter

	closers []io.Closer
	once    sync.Once
}

// NewStreamConn creates a newline-delimited connection over in and out.
// Close closes in and out if they implement io.Closer.
func NewStreamConn(in io.Reader, out io.Writer) Conn {
	c := &streamConn{
		reader: newMessageReader(in),
		writer: newMessageWriter(out),
	}
	if closer, ok := in.(io.Closer); ok {
		c.closers = append(c.closers, closer)
	}
	if closer, ok := out.(io.Closer); ok && any(out) != any(in) {
		c.closers = append(c.closers, closer)
	}
	return c
}

// Read blocks until a non-empty line arrives. ctx is only checked before
// reading since the underlying stream cannot be interrupted.
func (c *streamConn) Read(ctx context.Context) ([]byte, error) {
	buf := bufs.Get(0)
	defer bufs.Put(buf)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.reader.read(buf); err != nil {
			return nil, err
		}
		if len(*buf) > 0 {
			return append([]byte(nil), (*buf)...), nil
		}
	}
}

func (c *streamConn) Write(ctx context.Context, message []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.writer.write(message)
}

func (c *streamConn) Close() error {
	var err error
	c.once.Do(func() {
		for _, closer := range c.closers {
			if cerr := closer.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}
