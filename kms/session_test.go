package kms_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umk/mediarpc"
	"github.com/umk/mediarpc/kms"
	"github.com/umk/mediarpc/kms/kmstest"
)

func startSession(t *testing.T) (*kms.Session, *kmstest.Server) {
	t.Helper()

	aR, bW := io.Pipe()
	bR, aW := io.Pipe()

	fake := kmstest.NewServer()
	server := mediarpc.NewClient(mediarpc.NewStreamConn(bR, bW), mediarpc.WithHandler(fake.Handler()))
	client := mediarpc.NewClient(mediarpc.NewStreamConn(aR, aW))
	session := kms.NewSession(client)

	go func() { _ = server.Run(context.Background()) }()
	go func() { _ = client.Run(context.Background()) }()

	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	return session, fake
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSession_EchoesSessionID(t *testing.T) {
	session, fake := startSession(t)
	ctx := testContext(t)

	assert.Empty(t, session.ID())

	pipeline, err := session.Create(ctx, kms.MediaPipeline())
	require.NoError(t, err)
	assert.Equal(t, fake.SessionID(), session.ID())

	_, err = session.Create(ctx, kms.WebRtcEndpoint(pipeline))
	require.NoError(t, err)
	require.NoError(t, session.Ping(ctx))

	assert.Equal(t, []string{"", fake.SessionID(), fake.SessionID()}, fake.ReceivedSessionIDs())
}

func TestSession_CreateValidatesSpec(t *testing.T) {
	session, fake := startSession(t)
	ctx := testContext(t)

	_, err := session.Create(ctx, kms.Spec{Type: kms.TypeWebRtcEndpoint})
	require.Error(t, err)

	pipeline, err := session.Create(ctx, kms.MediaPipeline())
	require.NoError(t, err)

	_, err = session.Create(ctx, kms.GStreamerFilter(pipeline, ""))
	require.Error(t, err)
	_, err = session.Create(ctx, kms.PlayerEndpoint(pipeline, ""))
	require.Error(t, err)

	assert.Len(t, fake.Objects(), 1, "invalid specs never reach the server")
}

func TestSession_ErrorMapping(t *testing.T) {
	session, _ := startSession(t)
	ctx := testContext(t)

	pipeline, err := session.Create(ctx, kms.MediaPipeline())
	require.NoError(t, err)

	_, err = session.Create(ctx, kms.Spec{
		Type:   "Teleporter",
		Params: kms.Params{MediaPipeline: pipeline.ID},
	})
	require.ErrorIs(t, err, kms.ErrTypeNotFound)

	var rpcErr *mediarpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, kms.CodeTypeNotFound, rpcErr.Code)

	err = session.Invoke(ctx, "missing", "play", nil, nil)
	require.ErrorIs(t, err, kms.ErrObjectNotFound)

	err = pipeline.Invoke(ctx, "fly", nil, nil)
	require.ErrorIs(t, err, kms.ErrMethodNotFound)
	assert.False(t, errors.Is(err, kms.ErrObjectNotFound))
}

func TestSession_ReleaseDropsChildren(t *testing.T) {
	session, fake := startSession(t)
	ctx := testContext(t)

	pipeline, err := session.Create(ctx, kms.MediaPipeline())
	require.NoError(t, err)
	endpoint, err := session.Create(ctx, kms.WebRtcEndpoint(pipeline))
	require.NoError(t, err)
	assert.Len(t, fake.Objects(), 2)

	require.NoError(t, pipeline.Release(ctx))
	assert.Empty(t, fake.Objects())

	err = endpoint.Release(ctx)
	require.ErrorIs(t, err, kms.ErrObjectNotFound)
}

func TestSession_RoutesEvents(t *testing.T) {
	session, fake := startSession(t)
	ctx := testContext(t)

	pipeline, err := session.Create(ctx, kms.MediaPipeline())
	require.NoError(t, err)
	player, err := session.Create(ctx, kms.PlayerEndpoint(pipeline, "file:///tmp/video.webm"))
	require.NoError(t, err)
	other, err := session.Create(ctx, kms.PlayerEndpoint(pipeline, "file:///tmp/other.webm"))
	require.NoError(t, err)

	events := make(chan kms.Event, 4)
	sub, err := player.Subscribe(ctx, kms.EventEndOfStream, func(ev kms.Event) {
		events <- ev
	})
	require.NoError(t, err)
	assert.NotEmpty(t, sub)

	otherEvents := make(chan kms.Event, 4)
	_, err = other.Subscribe(ctx, kms.EventEndOfStream, func(ev kms.Event) {
		otherEvents <- ev
	})
	require.NoError(t, err)

	require.NoError(t, fake.Emit(ctx, other.ID, kms.EventEndOfStream, nil))
	require.NoError(t, fake.Emit(ctx, player.ID, kms.EventError, nil))
	require.NoError(t, fake.Emit(ctx, player.ID, kms.EventEndOfStream, map[string]string{"uri": "file:///tmp/video.webm"}))

	select {
	case ev := <-events:
		assert.Equal(t, player.ID, ev.Object)
		assert.Equal(t, kms.EventEndOfStream, ev.Type)
		assert.JSONEq(t, `{"uri":"file:///tmp/video.webm"}`, string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	require.Len(t, otherEvents, 1)
	assert.Equal(t, other.ID, (<-otherEvents).Object)

	require.NoError(t, player.Unsubscribe(ctx, sub))
	require.NoError(t, fake.Emit(ctx, player.ID, kms.EventEndOfStream, nil))
	require.NoError(t, session.Ping(ctx))
	assert.Empty(t, events)
}

func TestSession_EventBeforeSubscribeResponse(t *testing.T) {
	aR, bW := io.Pipe()
	bR, aW := io.Pipe()

	server := mediarpc.NewClient(mediarpc.NewStreamConn(bR, bW), mediarpc.WithHandler(mediarpc.NewHandler(map[string]mediarpc.HandlerFunc{
		"subscribe": func(ctx context.Context, c mediarpc.RPCContext) (any, error) {
			var params struct {
				Object string `json:"object"`
				Type   string `json:"type"`
			}
			if err := c.GetRequestBody(&params); err != nil {
				return nil, err
			}
			err := mediarpc.ClientFromContext(ctx).SendNotification(ctx, "onEvent", map[string]any{
				"value": map[string]string{"object": params.Object, "type": params.Type},
			})
			if err != nil {
				return nil, err
			}
			return map[string]string{"value": "sub-1", "sessionId": "s1"}, nil
		},
	})))
	client := mediarpc.NewClient(mediarpc.NewStreamConn(aR, aW))
	session := kms.NewSession(client)

	go func() { _ = server.Run(context.Background()) }()
	go func() { _ = client.Run(context.Background()) }()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})

	events := make(chan kms.Event, 1)
	id, err := session.Subscribe(testContext(t), "player-1", kms.EventEndOfStream, func(ev kms.Event) {
		events <- ev
	})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", id)

	require.Len(t, events, 1, "event sent ahead of the response is delivered")
	assert.Equal(t, "player-1", (<-events).Object)
}

func TestSession_SubscribeRequiresHandler(t *testing.T) {
	session, _ := startSession(t)

	_, err := session.Subscribe(testContext(t), "object", kms.EventEndOfStream, nil)
	require.Error(t, err)
}

func TestSession_InvokeDecodesValue(t *testing.T) {
	session, _ := startSession(t)
	ctx := testContext(t)

	pipeline, err := session.Create(ctx, kms.MediaPipeline())
	require.NoError(t, err)
	endpoint, err := session.Create(ctx, kms.WebRtcEndpoint(pipeline))
	require.NoError(t, err)

	var answer json.RawMessage
	require.NoError(t, endpoint.Invoke(ctx, "processOffer", map[string]string{"offer": "v=0"}, &answer))

	var text string
	require.NoError(t, json.Unmarshal(answer, &text))
	assert.Contains(t, text, endpoint.ID)
}
