// Package kms drives media objects on a Kurento-style media server over a
// mediarpc client. The server does all media work; this package only names
// objects, forwards operations and routes their events.
package kms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/umk/mediarpc"
)

// Event is a notification raised by a media object the session subscribed to.
type Event struct {
	Object string          `json:"object" validate:"required"`
	Type   string          `json:"type" validate:"required"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type EventHandler func(Event)

type SessionOption func(*Session)

func WithLogger(l zerolog.Logger) SessionOption {
	return func(s *Session) {
		s.log = l
	}
}

// Session tracks the server-assigned session id and the event
// subscriptions made through one client.
type Session struct {
	client *mediarpc.Client
	log    zerolog.Logger

	mu   sync.RWMutex
	id   string
	subs map[string]subscription

	pendingSubs atomic.Int64
}

type subscription struct {
	object    string
	eventType string
	fn        EventHandler
}

// result is the payload every media server response carries.
type result struct {
	Value     json.RawMessage `json:"value,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type createParams struct {
	Type              ElementType `json:"type" validate:"required"`
	ConstructorParams Params      `json:"constructorParams"`
	SessionID         string      `json:"sessionId,omitempty"`
}

type invokeParams struct {
	Object          string `json:"object" validate:"required"`
	Operation       string `json:"operation" validate:"required"`
	OperationParams any    `json:"operationParams,omitempty"`
	SessionID       string `json:"sessionId,omitempty"`
}

type releaseParams struct {
	Object    string `json:"object" validate:"required"`
	SessionID string `json:"sessionId,omitempty"`
}

type subscribeParams struct {
	Object    string `json:"object" validate:"required"`
	Type      string `json:"type" validate:"required"`
	SessionID string `json:"sessionId,omitempty"`
}

type unsubscribeParams struct {
	Object       string `json:"object" validate:"required"`
	Subscription string `json:"subscription" validate:"required"`
	SessionID    string `json:"sessionId,omitempty"`
}

type pingParams struct {
	SessionID string `json:"sessionId,omitempty"`
}

type eventParams struct {
	Value Event `json:"value"`
}

// NewSession registers the session's event handler on client. Start the
// client's Run loop separately.
func NewSession(client *mediarpc.Client, opts ...SessionOption) *Session {
	s := &Session{
		client: client,
		log:    zerolog.Nop(),
		subs:   make(map[string]subscription),
	}
	for _, opt := range opts {
		opt(s)
	}
	client.HandleFunc("onEvent", s.onEvent)
	return s
}

// ID returns the session id learnt from the server, if any.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.id
}

func (s *Session) learn(sessionID string) {
	if sessionID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.id != sessionID {
		s.log.Debug().Str("session_id", sessionID).Str("previous", s.id).Msg("Session id changed")
		s.id = sessionID
	}
}

func (s *Session) request(ctx context.Context, method string, params any, out any) error {
	var res result
	if err := s.client.Call(ctx, method, params, &res); err != nil {
		return classify(err)
	}

	s.learn(res.SessionID)

	if out == nil || len(res.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Value, out); err != nil {
		return fmt.Errorf("unexpected %s result: %w", method, err)
	}
	return nil
}

// Create asks the server to instantiate spec and returns the new element.
func (s *Session) Create(ctx context.Context, spec Spec) (*Element, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	var id string
	err := s.request(ctx, "create", createParams{
		Type:              spec.Type,
		ConstructorParams: spec.Params,
		SessionID:         s.ID(),
	}, &id)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", spec.Type, err)
	}
	if id == "" {
		return nil, fmt.Errorf("failed to create %s: server returned no object id", spec.Type)
	}

	return &Element{ID: id, Type: spec.Type, session: s}, nil
}

// Invoke runs operation on object and decodes its value into out.
func (s *Session) Invoke(ctx context.Context, object, operation string, params any, out any) error {
	err := s.request(ctx, "invoke", invokeParams{
		Object:          object,
		Operation:       operation,
		OperationParams: params,
		SessionID:       s.ID(),
	}, out)
	if err != nil {
		return fmt.Errorf("failed to invoke %s on %s: %w", operation, object, err)
	}
	return nil
}

// Release frees object on the server and drops its local subscriptions.
func (s *Session) Release(ctx context.Context, object string) error {
	err := s.request(ctx, "release", releaseParams{Object: object, SessionID: s.ID()}, nil)
	if err != nil {
		return fmt.Errorf("failed to release %s: %w", object, err)
	}

	s.mu.Lock()
	for id, sub := range s.subs {
		if sub.object == object {
			delete(s.subs, id)
		}
	}
	s.mu.Unlock()

	return nil
}

// Subscribe routes events of eventType raised by object to fn and returns
// the subscription id. fn is registered before the request is sent, so
// events the server raises while answering are not lost.
func (s *Session) Subscribe(ctx context.Context, object, eventType string, fn EventHandler) (string, error) {
	if fn == nil {
		return "", errors.New("event handler is nil")
	}

	sub := subscription{object: object, eventType: eventType, fn: fn}
	provisional := fmt.Sprintf("pending/%d", s.pendingSubs.Add(1))

	s.mu.Lock()
	s.subs[provisional] = sub
	s.mu.Unlock()

	var id string
	err := s.request(ctx, "subscribe", subscribeParams{
		Object:    object,
		Type:      eventType,
		SessionID: s.ID(),
	}, &id)

	s.mu.Lock()
	delete(s.subs, provisional)
	if err == nil {
		s.subs[id] = sub
	}
	s.mu.Unlock()

	if err != nil {
		return "", fmt.Errorf("failed to subscribe to %s on %s: %w", eventType, object, err)
	}
	return id, nil
}

func (s *Session) Unsubscribe(ctx context.Context, object, subscription string) error {
	s.mu.Lock()
	delete(s.subs, subscription)
	s.mu.Unlock()

	err := s.request(ctx, "unsubscribe", unsubscribeParams{
		Object:       object,
		Subscription: subscription,
		SessionID:    s.ID(),
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to unsubscribe %s: %w", subscription, err)
	}
	return nil
}

// Ping checks that the server still knows the session.
func (s *Session) Ping(ctx context.Context) error {
	return s.request(ctx, "ping", pingParams{SessionID: s.ID()}, nil)
}

func (s *Session) onEvent(ctx context.Context, c mediarpc.RPCContext) (any, error) {
	var params eventParams
	if err := c.GetRequestBody(&params); err != nil {
		return nil, err
	}
	ev := params.Value

	s.mu.RLock()
	var handlers []EventHandler
	for _, sub := range s.subs {
		if sub.object == ev.Object && sub.eventType == ev.Type {
			handlers = append(handlers, sub.fn)
		}
	}
	s.mu.RUnlock()

	if len(handlers) == 0 {
		s.log.Warn().Str("object", ev.Object).Str("type", ev.Type).Msg("Event for unknown subscription")
		return nil, nil
	}

	for _, fn := range handlers {
		fn(ev)
	}
	return nil, nil
}
