// Package transport defines the JSON-RPC 2.0 message envelope exchanged with
// MCP tool servers and the Transport interface that moves those messages.
package transport

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// JSONRPCVersion is the only protocol version on the wire.
const JSONRPCVersion = "2.0"

// RequestId is the JSON-RPC request identifier.
type RequestId int64

// JsonRpcBody is any JSON-encodable result body.
type JsonRpcBody any

// BaseMessageType identifies which member of BaseJsonRpcMessage is set.
type BaseMessageType string

const (
	BaseMessageTypeJSONRPCRequestType      BaseMessageType = "request"
	BaseMessageTypeJSONRPCNotificationType BaseMessageType = "notification"
	BaseMessageTypeJSONRPCResponseType     BaseMessageType = "response"
	BaseMessageTypeJSONRPCErrorType        BaseMessageType = "error"
)

// BaseJSONRPCRequest is a request that expects a response.
type BaseJSONRPCRequest struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	Id      RequestId       `json:"id"`
}

// BaseJSONRPCNotification is a one-way message.
type BaseJSONRPCNotification struct {
	Jsonrpc string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// BaseJSONRPCResponse is a successful response to a request.
type BaseJSONRPCResponse struct {
	Jsonrpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Id      RequestId       `json:"id"`
}

// BaseJSONRPCErrorInner is the error object of an error response.
type BaseJSONRPCErrorInner struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// BaseJSONRPCError is an error response to a request.
type BaseJSONRPCError struct {
	Jsonrpc string                `json:"jsonrpc"`
	Error   BaseJSONRPCErrorInner `json:"error"`
	Id      RequestId             `json:"id"`
}

// BaseJsonRpcMessage is a tagged union over the four JSON-RPC message kinds.
type BaseJsonRpcMessage struct {
	Type                BaseMessageType
	JsonRpcRequest      *BaseJSONRPCRequest
	JsonRpcNotification *BaseJSONRPCNotification
	JsonRpcResponse     *BaseJSONRPCResponse
	JsonRpcError        *BaseJSONRPCError
}

// NewBaseMessageRequest wraps a request.
func NewBaseMessageRequest(request *BaseJSONRPCRequest) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:           BaseMessageTypeJSONRPCRequestType,
		JsonRpcRequest: request,
	}
}

// NewBaseMessageNotification wraps a notification.
func NewBaseMessageNotification(notification *BaseJSONRPCNotification) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:                BaseMessageTypeJSONRPCNotificationType,
		JsonRpcNotification: notification,
	}
}

// NewBaseMessageResponse wraps a response.
func NewBaseMessageResponse(response *BaseJSONRPCResponse) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:            BaseMessageTypeJSONRPCResponseType,
		JsonRpcResponse: response,
	}
}

// NewBaseMessageError wraps an error response.
func NewBaseMessageError(response *BaseJSONRPCError) *BaseJsonRpcMessage {
	return &BaseJsonRpcMessage{
		Type:         BaseMessageTypeJSONRPCErrorType,
		JsonRpcError: response,
	}
}

// MarshalJSON encodes the active member only.
func (m *BaseJsonRpcMessage) MarshalJSON() ([]byte, error) {
	switch m.Type {
	case BaseMessageTypeJSONRPCRequestType:
		return json.Marshal(m.JsonRpcRequest)
	case BaseMessageTypeJSONRPCNotificationType:
		return json.Marshal(m.JsonRpcNotification)
	case BaseMessageTypeJSONRPCResponseType:
		return json.Marshal(m.JsonRpcResponse)
	case BaseMessageTypeJSONRPCErrorType:
		return json.Marshal(m.JsonRpcError)
	default:
		return nil, errors.Errorf("unknown message type: %q", m.Type)
	}
}

// probe holds the fields used to tell the message kinds apart.
type probe struct {
	Method *string          `json:"method"`
	ID     *json.RawMessage `json:"id"`
	Error  *json.RawMessage `json:"error"`
	Result *json.RawMessage `json:"result"`
}

// ParseMessage decodes one JSON-RPC message and detects its kind.
func ParseMessage(data []byte) (*BaseJsonRpcMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, errors.New("not a JSON-RPC object")
	}

	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "failed to decode message")
	}

	switch {
	case p.Method != nil && p.ID != nil:
		var req BaseJSONRPCRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, errors.Wrap(err, "failed to decode request")
		}
		return NewBaseMessageRequest(&req), nil
	case p.Method != nil:
		var n BaseJSONRPCNotification
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, errors.Wrap(err, "failed to decode notification")
		}
		return NewBaseMessageNotification(&n), nil
	case p.Error != nil:
		var e BaseJSONRPCError
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, errors.Wrap(err, "failed to decode error response")
		}
		return NewBaseMessageError(&e), nil
	case p.Result != nil:
		var r BaseJSONRPCResponse
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, errors.Wrap(err, "failed to decode response")
		}
		return NewBaseMessageResponse(&r), nil
	default:
		return nil, errors.New("message has neither method, result nor error")
	}
}

// Transport moves JSON-RPC messages between this process and a tool server.
type Transport interface {
	// Start begins reading messages. It must be called once before Send.
	Start(ctx context.Context) error
	// Send writes one message.
	Send(ctx context.Context, message *BaseJsonRpcMessage) error
	// Close releases the transport and everything it owns.
	Close() error
	// SetCloseHandler is called once when the transport is closed for any reason.
	SetCloseHandler(handler func())
	// SetErrorHandler is called for non-fatal read or decode errors.
	SetErrorHandler(handler func(error))
	// SetMessageHandler is called for every message read from the peer.
	SetMessageHandler(handler func(ctx context.Context, message *BaseJsonRpcMessage))
}
