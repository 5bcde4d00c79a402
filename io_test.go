package mediarpc

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamConn_ReadFrames(t *testing.T) {
	long := strings.Repeat("x", 3*defaultRequestSize)
	in := strings.NewReader("first\n\n" + long + "\nlast")
	conn := NewStreamConn(in, io.Discard)
	ctx := context.Background()

	frame, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", string(frame))

	frame, err = conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, long, string(frame), "blank lines are skipped and long lines joined")

	frame, err = conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "last", string(frame))

	_, err = conn.Read(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamConn_FramesAreNotShared(t *testing.T) {
	conn := NewStreamConn(strings.NewReader("aaa\nbbb\n"), io.Discard)
	ctx := context.Background()

	first, err := conn.Read(ctx)
	require.NoError(t, err)
	_, err = conn.Read(ctx)
	require.NoError(t, err)

	assert.Equal(t, "aaa", string(first))
}

func TestStreamConn_Write(t *testing.T) {
	var buf bytes.Buffer
	conn := NewStreamConn(strings.NewReader(""), &buf)

	require.NoError(t, conn.Write(context.Background(), []byte(`{"a":1}`)))
	require.NoError(t, conn.Write(context.Background(), []byte(`{"b":2}`)))

	assert.Equal(t, "{\"a\":1}\n{\"b\":2}\n", buf.String())
}

func TestStreamConn_WriteCancelled(t *testing.T) {
	var buf bytes.Buffer
	conn := NewStreamConn(strings.NewReader(""), &buf)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, conn.Write(ctx, []byte("x")), context.Canceled)
	assert.Empty(t, buf.String())
}

func TestStreamConn_CloseUnblocksRead(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	conn := NewStreamConn(r, io.Discard)

	done := make(chan error, 1)
	go func() {
		_, err := conn.Read(context.Background())
		done <- err
	}()

	require.NoError(t, conn.Close())
	assert.ErrorIs(t, <-done, io.ErrClosedPipe)
	require.NoError(t, conn.Close())
}
