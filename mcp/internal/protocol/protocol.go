// Package protocol implements JSON-RPC request/response correlation on top of
// a transport.Transport.
//
// The client side of an MCP session needs:
//   - monotonically increasing request ids
//   - a response channel per in-flight request
//   - per-request timeouts and context cancellation, both of which emit
//     "notifications/cancelled" to the peer
//   - answers to server-initiated requests ("ping"), anything else is
//     rejected with "method not found"
//
// Usage:
//
//	p := protocol.NewProtocol(nil)
//	if err := p.Connect(tr); err != nil {
//		return err
//	}
//	defer p.Close()
//
//	raw, err := p.Request(ctx, "tools/list", nil, &protocol.RequestOptions{Timeout: 30 * time.Second})
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolpilot/mcp/transport"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolpilot/mcp/internal", "protocol")

// DefaultRequestTimeout is used when RequestOptions.Timeout is not set.
const DefaultRequestTimeout = 60 * time.Second

// JSON-RPC error codes used by this package.
const (
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

// ErrConnectionClosed is returned to in-flight requests when the transport closes.
var ErrConnectionClosed = errors.New("connection closed")

// RPCError is an error response received from the peer.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// ProtocolOptions contains additional initialization options
type ProtocolOptions struct {
	// DefaultTimeout overrides DefaultRequestTimeout.
	DefaultTimeout time.Duration
}

// RequestOptions contains options that can be given per request
type RequestOptions struct {
	// Timeout specifies a timeout for this request.
	// If not specified, the protocol default is used.
	Timeout time.Duration
}

// RequestHandler answers a request sent by the peer.
type RequestHandler func(ctx context.Context, request *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error)

// NotificationHandler receives a notification sent by the peer.
type NotificationHandler func(notification *transport.BaseJSONRPCNotification) error

// Protocol implements request/response linking over a pluggable transport.
type Protocol struct {
	transport transport.Transport
	timeout   time.Duration

	requestMessageID transport.RequestId
	closed           bool
	mu               sync.RWMutex

	requestHandlers      map[string]RequestHandler
	notificationHandlers map[string]NotificationHandler
	responseHandlers     map[transport.RequestId]chan *responseEnvelope

	// OnClose is called when the connection is closed for any reason
	OnClose func()
	// OnError is called when an asynchronous error occurs
	OnError func(error)
}

type responseEnvelope struct {
	response json.RawMessage
	err      error
}

// NewProtocol creates a new Protocol instance
func NewProtocol(options *ProtocolOptions) *Protocol {
	p := &Protocol{
		timeout:              DefaultRequestTimeout,
		requestMessageID:     1,
		requestHandlers:      make(map[string]RequestHandler),
		notificationHandlers: make(map[string]NotificationHandler),
		responseHandlers:     make(map[transport.RequestId]chan *responseEnvelope),
	}
	if options != nil && options.DefaultTimeout > 0 {
		p.timeout = options.DefaultTimeout
	}

	p.SetRequestHandler("ping", func(context.Context, *transport.BaseJSONRPCRequest) (transport.JsonRpcBody, error) {
		return map[string]any{}, nil
	})

	return p
}

// Connect attaches to the given transport, starts it, and starts listening for messages
func (p *Protocol) Connect(tr transport.Transport) error {
	p.transport = tr

	tr.SetCloseHandler(p.handleClose)
	tr.SetErrorHandler(p.handleError)
	tr.SetMessageHandler(func(ctx context.Context, message *transport.BaseJsonRpcMessage) {
		switch message.Type {
		case transport.BaseMessageTypeJSONRPCRequestType:
			p.handleRequest(ctx, message.JsonRpcRequest)
		case transport.BaseMessageTypeJSONRPCNotificationType:
			p.handleNotification(message.JsonRpcNotification)
		case transport.BaseMessageTypeJSONRPCResponseType:
			p.handleResponse(message.JsonRpcResponse.Id, message.JsonRpcResponse.Result, nil)
		case transport.BaseMessageTypeJSONRPCErrorType:
			e := message.JsonRpcError
			p.handleResponse(e.Id, nil, &RPCError{Code: e.Error.Code, Message: e.Error.Message})
		}
	})

	return tr.Start(context.Background())
}

func (p *Protocol) handleClose() {
	p.mu.Lock()
	p.closed = true
	for id, ch := range p.responseHandlers {
		// buffered, never blocks
		ch <- &responseEnvelope{err: ErrConnectionClosed}
		delete(p.responseHandlers, id)
	}
	onClose := p.OnClose
	p.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

func (p *Protocol) handleError(err error) {
	if p.OnError != nil {
		p.OnError(err)
		return
	}
	logger.KV(xlog.DEBUG, "err", err.Error())
}

func (p *Protocol) handleNotification(notification *transport.BaseJSONRPCNotification) {
	logger.KV(xlog.DEBUG, "method", notification.Method)

	p.mu.RLock()
	handler := p.notificationHandlers[notification.Method]
	p.mu.RUnlock()

	if handler == nil {
		return
	}

	go func() {
		if err := handler(notification); err != nil {
			p.handleError(errors.Wrap(err, "notification handler error"))
		}
	}()
}

func (p *Protocol) handleRequest(ctx context.Context, request *transport.BaseJSONRPCRequest) {
	logger.KV(xlog.DEBUG,
		"method", request.Method,
		"id", request.Id,
	)

	p.mu.RLock()
	handler := p.requestHandlers[request.Method]
	p.mu.RUnlock()

	go func() {
		if handler == nil {
			p.sendErrorResponse(request.Id, CodeMethodNotFound, "method not found: "+request.Method)
			return
		}

		result, err := handler(ctx, request)
		if err != nil {
			p.sendErrorResponse(request.Id, CodeInternalError, err.Error())
			return
		}

		jsonResult, err := json.Marshal(result)
		if err != nil {
			p.sendErrorResponse(request.Id, CodeInternalError, "failed to marshal result")
			return
		}
		response := &transport.BaseJSONRPCResponse{
			Jsonrpc: transport.JSONRPCVersion,
			Id:      request.Id,
			Result:  jsonResult,
		}

		if err := p.transport.Send(ctx, transport.NewBaseMessageResponse(response)); err != nil {
			p.handleError(errors.Wrap(err, "failed to send response"))
		}
	}()
}

func (p *Protocol) handleResponse(id transport.RequestId, result json.RawMessage, err error) {
	p.mu.Lock()
	ch := p.responseHandlers[id]
	delete(p.responseHandlers, id)
	p.mu.Unlock()

	if ch == nil {
		logger.KV(xlog.DEBUG, "status", "unknown_response", "id", id)
		return
	}
	ch <- &responseEnvelope{
		response: result,
		err:      err,
	}
}

// Close closes the connection
func (p *Protocol) Close() error {
	if p.transport != nil {
		return p.transport.Close()
	}
	return nil
}

// Request sends a request and waits for a response.
// The raw JSON result is returned.
func (p *Protocol) Request(ctx context.Context, method string, params any, opts *RequestOptions) (json.RawMessage, error) {
	if p.transport == nil {
		return nil, errors.New("not connected")
	}

	timeout := p.timeout
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	var marshalledParams json.RawMessage
	if params != nil {
		js, err := json.Marshal(params)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal params")
		}
		marshalledParams = js
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	id := p.requestMessageID
	p.requestMessageID++
	ch := make(chan *responseEnvelope, 1)
	p.responseHandlers[id] = ch
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.responseHandlers, id)
		p.mu.Unlock()
	}()

	request := &transport.BaseJSONRPCRequest{
		Jsonrpc: transport.JSONRPCVersion,
		Method:  method,
		Params:  marshalledParams,
		Id:      id,
	}

	if err := p.transport.Send(ctx, transport.NewBaseMessageRequest(request)); err != nil {
		return nil, errors.Wrap(err, "failed to send request")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case envelope := <-ch:
		if envelope.err != nil {
			return nil, envelope.err
		}
		return envelope.response, nil
	case <-ctx.Done():
		p.sendCancelNotification(id, ctx.Err().Error())
		return nil, ctx.Err()
	case <-timer.C:
		p.sendCancelNotification(id, "request timeout")
		return nil, errors.Mark(errors.Errorf("request %q timeout after %v", method, timeout), context.DeadlineExceeded)
	}
}

func (p *Protocol) sendCancelNotification(requestID transport.RequestId, reason string) {
	if err := p.Notification("notifications/cancelled", map[string]any{
		"requestId": requestID,
		"reason":    reason,
	}); err != nil {
		p.handleError(errors.Wrap(err, "failed to send cancel notification"))
	}
}

func (p *Protocol) sendErrorResponse(requestID transport.RequestId, code int, message string) {
	response := &transport.BaseJSONRPCError{
		Jsonrpc: transport.JSONRPCVersion,
		Id:      requestID,
		Error: transport.BaseJSONRPCErrorInner{
			Code:    code,
			Message: message,
		},
	}

	if err := p.transport.Send(context.Background(), transport.NewBaseMessageError(response)); err != nil {
		p.handleError(errors.Wrap(err, "failed to send error response"))
	}
}

// Notification emits a notification, which is a one-way message that does not expect a response
func (p *Protocol) Notification(method string, params any) error {
	if p.transport == nil {
		return errors.New("not connected")
	}

	notification := &transport.BaseJSONRPCNotification{
		Jsonrpc: transport.JSONRPCVersion,
		Method:  method,
	}
	if params != nil {
		marshalled, err := json.Marshal(params)
		if err != nil {
			return errors.Wrap(err, "failed to marshal notification params")
		}
		notification.Params = marshalled
	}

	return p.transport.Send(context.Background(), transport.NewBaseMessageNotification(notification))
}

// SetRequestHandler registers a handler to invoke when this protocol object receives a request with the given method
func (p *Protocol) SetRequestHandler(method string, handler RequestHandler) {
	p.mu.Lock()
	p.requestHandlers[method] = handler
	p.mu.Unlock()
}

// SetNotificationHandler registers a handler to invoke when this protocol object receives a notification with the given method
func (p *Protocol) SetNotificationHandler(method string, handler NotificationHandler) {
	p.mu.Lock()
	p.notificationHandlers[method] = handler
	p.mu.Unlock()
}
