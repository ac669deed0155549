package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RequestID identifies a request on the wire. Outgoing requests always
// carry numeric ids from a per-connection monotonic counter; incoming
// ids are accepted as JSON numbers or numeric strings so responses from
// servers that stringify ids still correlate.
type RequestID int64

// UnmarshalJSON accepts both 7 and "7".
func (id *RequestID) UnmarshalJSON(data []byte) error {
	if len(data) > 1 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("request id %q is not numeric: %w", s, err)
		}
		*id = RequestID(n)
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("request id is not numeric: %w", err)
	}
	*id = RequestID(n)
	return nil
}

// ErrorCode is a numeric error classifier carried in error responses.
type ErrorCode int

// Standard JSON-RPC error codes.
const (
	ErrorCodeParseError     ErrorCode = -32700
	ErrorCodeInvalidRequest ErrorCode = -32600
	ErrorCodeMethodNotFound ErrorCode = -32601
	ErrorCodeInvalidParams  ErrorCode = -32602
	ErrorCodeInternalError  ErrorCode = -32603
)

// ErrorPayload is the 'error' member of a failed response.
type ErrorPayload struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Kind discriminates the three message shapes sharing the envelope.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindResponse
	KindNotification
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// Message is the common wire envelope. Exactly one line of
// newline-delimited JSON per message. The payload fields stay raw until
// a typed decode at the call site; discrimination between request,
// response, and notification happens once, in Kind.
type Message struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ID              *RequestID      `json:"id,omitempty"`
	Method          string          `json:"method,omitempty"`
	Params          json.RawMessage `json:"params,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           *ErrorPayload   `json:"error,omitempty"`
}

// Kind reports the message shape: an id with no method is a response,
// an id with a method is a request, a method with no id is a
// notification. A message with neither is invalid.
func (m *Message) Kind() Kind {
	switch {
	case m.ID != nil && m.Method == "":
		return KindResponse
	case m.ID != nil:
		return KindRequest
	case m.Method != "":
		return KindNotification
	default:
		return KindInvalid
	}
}

// ParseMessage decodes one frame into a Message and validates the
// envelope. It returns an error for frames that are not JSON objects or
// that fit none of the three message shapes; such frames are dropped by
// callers, never treated as fatal to the connection.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}
	if msg.Kind() == KindInvalid {
		return nil, fmt.Errorf("message has neither id nor method")
	}
	return &msg, nil
}

// NewRequest builds an outgoing request envelope. The params value is
// marshaled immediately so encoding errors surface to the caller before
// any id is burned on the wire.
func NewRequest(id RequestID, method string, params interface{}) (*Message, error) {
	raw, err := marshalPayload(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}
	return &Message{
		ProtocolVersion: CurrentProtocolVersion,
		ID:              &id,
		Method:          method,
		Params:          raw,
	}, nil
}

// NewNotification builds an outgoing notification envelope (no id, no
// response expected).
func NewNotification(method string, params interface{}) (*Message, error) {
	raw, err := marshalPayload(params)
	if err != nil {
		return nil, fmt.Errorf("encode %s params: %w", method, err)
	}
	return &Message{
		ProtocolVersion: CurrentProtocolVersion,
		Method:          method,
		Params:          raw,
	}, nil
}

// NewSuccessResponse builds a response envelope carrying a result.
func NewSuccessResponse(id RequestID, result interface{}) (*Message, error) {
	raw, err := marshalPayload(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &Message{
		ProtocolVersion: CurrentProtocolVersion,
		ID:              &id,
		Result:          raw,
	}, nil
}

// NewErrorResponse builds a response envelope carrying an error.
func NewErrorResponse(id RequestID, code ErrorCode, message string) *Message {
	return &Message{
		ProtocolVersion: CurrentProtocolVersion,
		ID:              &id,
		Error:           &ErrorPayload{Code: code, Message: message},
	}
}

func marshalPayload(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
