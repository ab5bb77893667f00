package protocol

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/HMasataka/chathub/pkg/domain"
	"github.com/HMasataka/chathub/pkg/errors"
	"github.com/tidwall/gjson"
)

// Handler defines the interface for handling protocol frames
type Handler interface {
	// Handle processes a frame and returns an optional reply for the caller
	Handle(ctx context.Context, frame *Frame) (*Frame, error)
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, frame *Frame) (*Frame, error)

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, frame *Frame) (*Frame, error) {
	return f(ctx, frame)
}

// HandlerRegistry manages frame handlers
type HandlerRegistry interface {
	// Register registers a handler for a frame type
	Register(frameType string, handler Handler)

	// Get retrieves a handler for a frame type
	Get(frameType string) (Handler, bool)

	// Dispatch decodes raw and routes it to the appropriate handler
	Dispatch(ctx context.Context, raw []byte) (*Frame, *Frame, error)
}

// DefaultHandlerRegistry is the default implementation of HandlerRegistry
type DefaultHandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry creates a new handler registry
func NewHandlerRegistry() *DefaultHandlerRegistry {
	return &DefaultHandlerRegistry{
		handlers: make(map[string]Handler),
	}
}

// Register implements HandlerRegistry
func (r *DefaultHandlerRegistry) Register(frameType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[frameType] = handler
}

// Get implements HandlerRegistry
func (r *DefaultHandlerRegistry) Get(frameType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[frameType]
	return handler, ok
}

// Dispatch implements HandlerRegistry. It returns the decoded request
// (nil if raw was not a frame), the handler's reply and its error.
// The type is peeked before the full decode so unknown operations are
// rejected without parsing their payload.
func (r *DefaultHandlerRegistry) Dispatch(ctx context.Context, raw []byte) (*Frame, *Frame, error) {
	if !gjson.ValidBytes(raw) {
		return nil, nil, errors.Wrap(domain.ErrInvalidMessage, errors.ErrorTypeProtocol, errors.CodeInvalidFrame, "frame is not valid JSON")
	}

	frameType := gjson.GetBytes(raw, "type")
	if frameType.Type != gjson.String || frameType.Str == "" {
		return nil, nil, errors.Wrap(domain.ErrInvalidMessage, errors.ErrorTypeProtocol, errors.CodeInvalidFrame, "frame has no type")
	}

	handler, ok := r.Get(frameType.Str)
	if !ok {
		ref := gjson.GetBytes(raw, "id").String()
		return &Frame{ID: ref, Type: frameType.Str}, nil,
			errors.New(errors.ErrorTypeProtocol, errors.CodeUnknownOperation, "no handler found for operation").
				WithDetails(frameType.Str)
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrorTypeProtocol, errors.CodeInvalidFrame, "failed to unmarshal frame")
	}

	reply, err := handler.Handle(ctx, &frame)
	return &frame, reply, err
}
