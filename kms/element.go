package kms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ElementType names a media object class known to the server.
type ElementType string

const (
	TypeMediaPipeline     ElementType = "MediaPipeline"
	TypeWebRtcEndpoint    ElementType = "WebRtcEndpoint"
	TypePlayerEndpoint    ElementType = "PlayerEndpoint"
	TypeRecorderEndpoint  ElementType = "RecorderEndpoint"
	TypeGStreamerFilter   ElementType = "GStreamerFilter"
	TypeFaceOverlayFilter ElementType = "FaceOverlayFilter"
)

// Event types raised by endpoints.
const (
	EventIceCandidateFound = "IceCandidateFound"
	EventEndOfStream       = "EndOfStream"
	EventError             = "Error"
)

// Params are the constructor parameters of a media object. Which ones are
// needed depends on the element type.
type Params struct {
	MediaPipeline string `json:"mediaPipeline,omitempty"`
	URI           string `json:"uri,omitempty"`
	Command       string `json:"command,omitempty"`
}

// Spec describes an element to create.
type Spec struct {
	Type   ElementType
	Params Params
}

func (s Spec) validate() error {
	if s.Type == "" {
		return errors.New("element type is required")
	}
	if s.Type != TypeMediaPipeline && s.Params.MediaPipeline == "" {
		return fmt.Errorf("%s requires a media pipeline", s.Type)
	}
	switch s.Type {
	case TypePlayerEndpoint, TypeRecorderEndpoint:
		if s.Params.URI == "" {
			return fmt.Errorf("%s requires a uri", s.Type)
		}
	case TypeGStreamerFilter:
		if s.Params.Command == "" {
			return fmt.Errorf("%s requires a command", s.Type)
		}
	}
	return nil
}

func MediaPipeline() Spec {
	return Spec{Type: TypeMediaPipeline}
}

func WebRtcEndpoint(pipeline *Element) Spec {
	return Spec{Type: TypeWebRtcEndpoint, Params: Params{MediaPipeline: pipeline.ID}}
}

func PlayerEndpoint(pipeline *Element, uri string) Spec {
	return Spec{Type: TypePlayerEndpoint, Params: Params{MediaPipeline: pipeline.ID, URI: uri}}
}

func RecorderEndpoint(pipeline *Element, uri string) Spec {
	return Spec{Type: TypeRecorderEndpoint, Params: Params{MediaPipeline: pipeline.ID, URI: uri}}
}

// GStreamerFilter runs a GStreamer pipeline description inside the server.
func GStreamerFilter(pipeline *Element, command string) Spec {
	return Spec{Type: TypeGStreamerFilter, Params: Params{MediaPipeline: pipeline.ID, Command: command}}
}

// MirrorFilter flips video horizontally.
func MirrorFilter(pipeline *Element) Spec {
	return GStreamerFilter(pipeline, "videoflip method=horizontal-flip")
}

func FaceOverlayFilter(pipeline *Element) Spec {
	return Spec{Type: TypeFaceOverlayFilter, Params: Params{MediaPipeline: pipeline.ID}}
}

// Element is a media object living on the server. Type decides which of
// the type-specific operations are allowed.
type Element struct {
	ID   string
	Type ElementType

	session *Session
}

// IceCandidate is passed through between the browser and the server.
type IceCandidate struct {
	Candidate     string `json:"candidate"`
	SdpMid        string `json:"sdpMid"`
	SdpMLineIndex uint   `json:"sdpMLineIndex"`
}

func (e *Element) require(op string, types ...ElementType) error {
	if !slices.Contains(types, e.Type) {
		return fmt.Errorf("%w: %s on %s", ErrUnsupported, op, e.Type)
	}
	return nil
}

func (e *Element) Invoke(ctx context.Context, operation string, params any, out any) error {
	return e.session.Invoke(ctx, e.ID, operation, params, out)
}

func (e *Element) Release(ctx context.Context) error {
	return e.session.Release(ctx, e.ID)
}

func (e *Element) Subscribe(ctx context.Context, eventType string, fn EventHandler) (string, error) {
	return e.session.Subscribe(ctx, e.ID, eventType, fn)
}

func (e *Element) Unsubscribe(ctx context.Context, subscription string) error {
	return e.session.Unsubscribe(ctx, e.ID, subscription)
}

// Connect sends this element's media to sink.
func (e *Element) Connect(ctx context.Context, sink *Element) error {
	if err := e.require("connect", mediaElements...); err != nil {
		return err
	}
	return e.Invoke(ctx, "connect", map[string]string{"sink": sink.ID}, nil)
}

func (e *Element) Disconnect(ctx context.Context, sink *Element) error {
	if err := e.require("disconnect", mediaElements...); err != nil {
		return err
	}
	return e.Invoke(ctx, "disconnect", map[string]string{"sink": sink.ID}, nil)
}

var mediaElements = []ElementType{
	TypeWebRtcEndpoint,
	TypePlayerEndpoint,
	TypeRecorderEndpoint,
	TypeGStreamerFilter,
	TypeFaceOverlayFilter,
}

// ProcessOffer hands an SDP offer to the endpoint and returns its answer.
func (e *Element) ProcessOffer(ctx context.Context, offer string) (string, error) {
	if err := e.require("processOffer", TypeWebRtcEndpoint); err != nil {
		return "", err
	}
	var answer string
	err := e.Invoke(ctx, "processOffer", map[string]string{"offer": offer}, &answer)
	return answer, err
}

func (e *Element) GatherCandidates(ctx context.Context) error {
	if err := e.require("gatherCandidates", TypeWebRtcEndpoint); err != nil {
		return err
	}
	return e.Invoke(ctx, "gatherCandidates", nil, nil)
}

func (e *Element) AddIceCandidate(ctx context.Context, candidate IceCandidate) error {
	if err := e.require("addIceCandidate", TypeWebRtcEndpoint); err != nil {
		return err
	}
	return e.Invoke(ctx, "addIceCandidate", map[string]IceCandidate{"candidate": candidate}, nil)
}

// OnIceCandidate subscribes fn to candidates found by the endpoint.
func (e *Element) OnIceCandidate(ctx context.Context, fn func(IceCandidate)) (string, error) {
	if err := e.require("OnIceCandidate", TypeWebRtcEndpoint); err != nil {
		return "", err
	}
	return e.Subscribe(ctx, EventIceCandidateFound, func(ev Event) {
		var data struct {
			Candidate IceCandidate `json:"candidate"`
		}
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			e.session.log.Warn().Err(err).Str("object", e.ID).Msg("Malformed ICE candidate event")
			return
		}
		fn(data.Candidate)
	})
}

func (e *Element) Play(ctx context.Context) error {
	if err := e.require("play", TypePlayerEndpoint); err != nil {
		return err
	}
	return e.Invoke(ctx, "play", nil, nil)
}

func (e *Element) Record(ctx context.Context) error {
	if err := e.require("record", TypeRecorderEndpoint); err != nil {
		return err
	}
	return e.Invoke(ctx, "record", nil, nil)
}

func (e *Element) Stop(ctx context.Context) error {
	if err := e.require("stop", TypePlayerEndpoint, TypeRecorderEndpoint); err != nil {
		return err
	}
	return e.Invoke(ctx, "stop", nil, nil)
}
