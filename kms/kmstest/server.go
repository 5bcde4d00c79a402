// Package kmstest provides an in-memory media server speaking the media
// server protocol, for tests and local demos.
package kmstest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/umk/mediarpc"
	"github.com/umk/mediarpc/kms"
)

// Server keeps media objects and subscriptions in memory. Events are sent
// to the connection that subscribed.
type Server struct {
	sessionID string

	mu       sync.Mutex
	objects  map[string]*object
	subs     map[string]*subscription
	received []string
}

type object struct {
	typ        kms.ElementType
	params     kms.Params
	sinks      []string
	candidates []kms.IceCandidate
	state      string
}

type subscription struct {
	object    string
	eventType string
	peer      *mediarpc.Client
}

type result struct {
	Value     any    `json:"value,omitempty"`
	SessionID string `json:"sessionId"`
}

type createParams struct {
	Type              kms.ElementType `json:"type" validate:"required"`
	ConstructorParams kms.Params      `json:"constructorParams"`
	SessionID         string          `json:"sessionId"`
}

type invokeParams struct {
	Object          string         `json:"object" validate:"required"`
	Operation       string         `json:"operation" validate:"required"`
	OperationParams operationInput `json:"operationParams"`
	SessionID       string         `json:"sessionId"`
}

type operationInput struct {
	Sink      string           `json:"sink"`
	Offer     string           `json:"offer"`
	Candidate kms.IceCandidate `json:"candidate"`
}

type objectParams struct {
	Object       string `json:"object" validate:"required"`
	Type         string `json:"type"`
	Subscription string `json:"subscription"`
	SessionID    string `json:"sessionId"`
}

type pingParams struct {
	Interval  int64  `json:"interval"`
	SessionID string `json:"sessionId"`
}

var knownTypes = map[kms.ElementType]bool{
	kms.TypeMediaPipeline:     true,
	kms.TypeWebRtcEndpoint:    true,
	kms.TypePlayerEndpoint:    true,
	kms.TypeRecorderEndpoint:  true,
	kms.TypeGStreamerFilter:   true,
	kms.TypeFaceOverlayFilter: true,
}

func NewServer() *Server {
	return &Server{
		sessionID: uuid.NewString(),
		objects:   make(map[string]*object),
		subs:      make(map[string]*subscription),
	}
}

// SessionID is the session id the server hands out in every result.
func (s *Server) SessionID() string {
	return s.sessionID
}

// ReceivedSessionIDs lists the sessionId of every request in arrival order,
// with "" for requests that carried none.
func (s *Server) ReceivedSessionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.received...)
}

// Objects returns the type of every live media object by id.
func (s *Server) Objects() map[string]kms.ElementType {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]kms.ElementType, len(s.objects))
	for id, obj := range s.objects {
		out[id] = obj.typ
	}
	return out
}

// Sinks returns the ids id is connected to.
func (s *Server) Sinks(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if obj, ok := s.objects[id]; ok {
		return append([]string(nil), obj.sinks...)
	}
	return nil
}

// Candidates returns the ICE candidates added to a WebRTC endpoint.
func (s *Server) Candidates(id string) []kms.IceCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()

	if obj, ok := s.objects[id]; ok {
		return append([]kms.IceCandidate(nil), obj.candidates...)
	}
	return nil
}

// Handler answers the media server methods.
func (s *Server) Handler() *mediarpc.Handler {
	return mediarpc.NewHandler(map[string]mediarpc.HandlerFunc{
		"create":      s.create,
		"invoke":      s.invoke,
		"release":     s.release,
		"subscribe":   s.subscribe,
		"unsubscribe": s.unsubscribe,
		"ping":        s.ping,
	})
}

// Emit sends an onEvent notification to every subscriber of eventType on
// object.
func (s *Server) Emit(ctx context.Context, objectID, eventType string, data any) error {
	s.mu.Lock()
	var peers []*mediarpc.Client
	for _, sub := range s.subs {
		if sub.object == objectID && sub.eventType == eventType && sub.peer != nil {
			peers = append(peers, sub.peer)
		}
	}
	s.mu.Unlock()

	params := map[string]any{
		"value": map[string]any{
			"object": objectID,
			"type":   eventType,
			"data":   data,
		},
	}

	var errs []error
	for _, peer := range peers {
		if err := peer.SendNotification(ctx, "onEvent", params); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) reply(sessionID string, value any) result {
	s.mu.Lock()
	s.received = append(s.received, sessionID)
	s.mu.Unlock()

	return result{Value: value, SessionID: s.sessionID}
}

func objectNotFound(id string) error {
	return &mediarpc.Error{Code: kms.CodeObjectNotFound, Message: fmt.Sprintf("Object '%s' not found", id)}
}

func methodNotFound(obj *object, operation string) error {
	return &mediarpc.Error{
		Code:    kms.CodeMethodNotFound,
		Message: fmt.Sprintf("Method '%s' not found on %s", operation, obj.typ),
	}
}

func (s *Server) create(ctx context.Context, c mediarpc.RPCContext) (any, error) {
	var params createParams
	if err := c.GetRequestBody(&params); err != nil {
		return nil, err
	}
	if !knownTypes[params.Type] {
		return nil, &mediarpc.Error{
			Code:    kms.CodeTypeNotFound,
			Message: fmt.Sprintf("Type '%s' not found", params.Type),
		}
	}

	s.mu.Lock()
	id := uuid.NewString()
	if params.Type != kms.TypeMediaPipeline {
		pipeline, ok := s.objects[params.ConstructorParams.MediaPipeline]
		if !ok || pipeline.typ != kms.TypeMediaPipeline {
			s.mu.Unlock()
			return nil, objectNotFound(params.ConstructorParams.MediaPipeline)
		}
		id = params.ConstructorParams.MediaPipeline + "/" + id
	}
	s.objects[id] = &object{typ: params.Type, params: params.ConstructorParams}
	s.mu.Unlock()

	return s.reply(params.SessionID, id), nil
}

func (s *Server) invoke(ctx context.Context, c mediarpc.RPCContext) (any, error) {
	var params invokeParams
	if err := c.GetRequestBody(&params); err != nil {
		return nil, err
	}
	in := params.OperationParams

	s.mu.Lock()
	obj, ok := s.objects[params.Object]
	if !ok {
		s.mu.Unlock()
		return nil, objectNotFound(params.Object)
	}

	var value any
	var gather bool
	switch params.Operation {
	case "connect", "disconnect":
		if obj.typ == kms.TypeMediaPipeline {
			s.mu.Unlock()
			return nil, methodNotFound(obj, params.Operation)
		}
		if _, ok := s.objects[in.Sink]; !ok {
			s.mu.Unlock()
			return nil, objectNotFound(in.Sink)
		}
		if params.Operation == "connect" {
			obj.sinks = append(obj.sinks, in.Sink)
		} else {
			obj.sinks = remove(obj.sinks, in.Sink)
		}
	case "processOffer":
		if obj.typ != kms.TypeWebRtcEndpoint {
			s.mu.Unlock()
			return nil, methodNotFound(obj, params.Operation)
		}
		if in.Offer == "" {
			s.mu.Unlock()
			return nil, &mediarpc.Error{Code: mediarpc.CodeInvalidParams, Message: "offer is required"}
		}
		value = answerFor(params.Object)
	case "gatherCandidates":
		if obj.typ != kms.TypeWebRtcEndpoint {
			s.mu.Unlock()
			return nil, methodNotFound(obj, params.Operation)
		}
		gather = true
	case "addIceCandidate":
		if obj.typ != kms.TypeWebRtcEndpoint {
			s.mu.Unlock()
			return nil, methodNotFound(obj, params.Operation)
		}
		obj.candidates = append(obj.candidates, in.Candidate)
	case "play", "stop", "record":
		if !stateful(obj.typ, params.Operation) {
			s.mu.Unlock()
			return nil, methodNotFound(obj, params.Operation)
		}
		obj.state = params.Operation
	default:
		s.mu.Unlock()
		return nil, methodNotFound(obj, params.Operation)
	}
	s.mu.Unlock()

	if gather {
		candidate := kms.IceCandidate{
			Candidate: "candidate:1 1 UDP 2122252543 127.0.0.1 40000 typ host",
			SdpMid:    "0",
		}
		err := s.Emit(ctx, params.Object, kms.EventIceCandidateFound, map[string]any{"candidate": candidate})
		if err != nil {
			return nil, err
		}
	}

	return s.reply(params.SessionID, value), nil
}

func stateful(typ kms.ElementType, operation string) bool {
	switch typ {
	case kms.TypePlayerEndpoint:
		return operation == "play" || operation == "stop"
	case kms.TypeRecorderEndpoint:
		return operation == "record" || operation == "stop"
	}
	return false
}

func answerFor(id string) string {
	return "v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=" + id + "\r\nt=0 0\r\n"
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func (s *Server) release(ctx context.Context, c mediarpc.RPCContext) (any, error) {
	var params objectParams
	if err := c.GetRequestBody(&params); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if _, ok := s.objects[params.Object]; !ok {
		s.mu.Unlock()
		return nil, objectNotFound(params.Object)
	}
	// Releasing a pipeline releases the elements it contains.
	for id := range s.objects {
		if id == params.Object || strings.HasPrefix(id, params.Object+"/") {
			delete(s.objects, id)
		}
	}
	for id, sub := range s.subs {
		if _, ok := s.objects[sub.object]; !ok {
			delete(s.subs, id)
		}
	}
	s.mu.Unlock()

	return s.reply(params.SessionID, nil), nil
}

func (s *Server) subscribe(ctx context.Context, c mediarpc.RPCContext) (any, error) {
	var params objectParams
	if err := c.GetRequestBody(&params); err != nil {
		return nil, err
	}
	if params.Type == "" {
		return nil, &mediarpc.Error{Code: mediarpc.CodeInvalidParams, Message: "type is required"}
	}

	s.mu.Lock()
	if _, ok := s.objects[params.Object]; !ok {
		s.mu.Unlock()
		return nil, objectNotFound(params.Object)
	}
	id := uuid.NewString()
	s.subs[id] = &subscription{
		object:    params.Object,
		eventType: params.Type,
		peer:      mediarpc.ClientFromContext(ctx),
	}
	s.mu.Unlock()

	return s.reply(params.SessionID, id), nil
}

func (s *Server) unsubscribe(ctx context.Context, c mediarpc.RPCContext) (any, error) {
	var params objectParams
	if err := c.GetRequestBody(&params); err != nil {
		return nil, err
	}

	s.mu.Lock()
	delete(s.subs, params.Subscription)
	s.mu.Unlock()

	return s.reply(params.SessionID, nil), nil
}

func (s *Server) ping(ctx context.Context, c mediarpc.RPCContext) (any, error) {
	var params pingParams
	if err := c.GetRequestBody(&params); err != nil {
		return nil, err
	}
	return s.reply(params.SessionID, "pong"), nil
}
