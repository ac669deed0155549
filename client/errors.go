package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/toolmux/toolmux/protocol"
)

// Standard error values usable with errors.Is().
var (
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrClientClosed     = errors.New("client is closed")
	ErrRequestTimeout   = errors.New("request timed out")
	ErrDisconnected     = errors.New("disconnected")
)

// ClientError is the base type the classified errors embed.
type ClientError struct {
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ConfigError reports a malformed or incomplete server descriptor. It
// is raised before any I/O is attempted.
type ConfigError struct {
	ClientError
	Server string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error (%s): %s", e.Server, e.ClientError.Error())
}

// ConnectError reports that the transport could not be established.
type ConnectError struct {
	ClientError
	Server string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect error (%s): %s", e.Server, e.ClientError.Error())
}

// HandshakeError reports that the transport came up but capability
// negotiation failed or timed out.
type HandshakeError struct {
	ClientError
	Server string
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake error (%s): %s", e.Server, e.ClientError.Error())
}

// TimeoutError reports that a request was sent but no response arrived
// within the deadline.
type TimeoutError struct {
	ClientError
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %v waiting for %s", e.Timeout, e.Method)
}

// RemoteError carries a structured error the server returned for one
// request.
type RemoteError struct {
	ClientError
	Method string
	Code   protocol.ErrorCode
	Data   []byte
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server error during %s (code=%d): %s", e.Method, e.Code, e.Message)
}

// TransportError reports that the connection failed or dropped;
// delivered to every request that was pending when it happened.
type TransportError struct {
	ClientError
	Server string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error (%s): %s", e.Server, e.ClientError.Error())
}

// NotConnectedError reports a typed operation against a client that is
// not Ready, failing fast instead of hanging.
type NotConnectedError struct {
	ClientError
	State State
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("%s (state=%s)", e.ClientError.Error(), e.State)
}

// NewConfigError creates a ConfigError.
func NewConfigError(server, message string, cause error) error {
	return &ConfigError{ClientError: ClientError{Message: message, Cause: cause}, Server: server}
}

// NewConnectError creates a ConnectError.
func NewConnectError(server, message string, cause error) error {
	return &ConnectError{ClientError: ClientError{Message: message, Cause: cause}, Server: server}
}

// NewHandshakeError creates a HandshakeError.
func NewHandshakeError(server, message string, cause error) error {
	return &HandshakeError{ClientError: ClientError{Message: message, Cause: cause}, Server: server}
}

// NewTimeoutError creates a TimeoutError.
func NewTimeoutError(method string, timeout time.Duration) error {
	return &TimeoutError{
		ClientError: ClientError{Message: "request timed out", Cause: ErrRequestTimeout},
		Method:      method,
		Timeout:     timeout,
	}
}

// NewRemoteError creates a RemoteError from an error payload.
func NewRemoteError(method string, payload *protocol.ErrorPayload) error {
	return &RemoteError{
		ClientError: ClientError{Message: payload.Message},
		Method:      method,
		Code:        payload.Code,
		Data:        payload.Data,
	}
}

// NewTransportError creates a TransportError.
func NewTransportError(server, message string, cause error) error {
	return &TransportError{ClientError: ClientError{Message: message, Cause: cause}, Server: server}
}

// NewNotConnectedError creates a NotConnectedError for the given state.
func NewNotConnectedError(state State) error {
	return &NotConnectedError{
		ClientError: ClientError{Message: "client is not ready", Cause: ErrNotConnected},
		State:       state,
	}
}

// IsConfigError checks whether err is a descriptor validation failure.
func IsConfigError(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}

// IsConnectError checks whether err is a connection establishment failure.
func IsConnectError(err error) bool {
	var e *ConnectError
	return errors.As(err, &e)
}

// IsHandshakeError checks whether err is a negotiation failure.
func IsHandshakeError(err error) bool {
	var e *HandshakeError
	return errors.As(err, &e)
}

// IsTimeoutError checks whether err is a per-request timeout.
func IsTimeoutError(err error) bool {
	var e *TimeoutError
	return errors.As(err, &e) || errors.Is(err, ErrRequestTimeout)
}

// IsRemoteError checks whether err is a server-reported error.
func IsRemoteError(err error) bool {
	var e *RemoteError
	return errors.As(err, &e)
}

// IsTransportError checks whether err is a connection-level failure.
func IsTransportError(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}

// IsNotConnectedError checks whether err is a fast-fail on a client
// that is not Ready.
func IsNotConnectedError(err error) bool {
	var e *NotConnectedError
	return errors.As(err, &e) || errors.Is(err, ErrNotConnected)
}
