package errors

import (
	sterrors "errors"
	"fmt"
	"reflect"
)

var (
	ErrChannelConfig   = sterrors.New("relayflow: channel configuration error")
	ErrTypeMismatch    = sterrors.New("relayflow: message type mismatch")
	ErrService         = sterrors.New("relayflow: service error")
	ErrStreamClosed    = sterrors.New("relayflow: stream is closed")
	ErrAddressInUse    = sterrors.New("relayflow: address already in use")
	ErrUnroutable      = sterrors.New("relayflow: message has no routing identity")
	ErrSendUnsupported = sterrors.New("relayflow: socket role cannot send")
	ErrLoopRequired    = sterrors.New("relayflow: event loop is required")
	ErrPoolClosed      = sterrors.New("relayflow: worker pool is closed")
	ErrConfigRequired  = sterrors.New("relayflow: configuration is required")
)

// ChannelConfigError reports an unknown channel, a missing transport parameter
// or an unsupported transport kind. It is raised at setup time only.
type ChannelConfigError struct {
	Channel string
	Reason  string
}

func NewChannelConfigError(channel, format string, args ...any) *ChannelConfigError {
	return &ChannelConfigError{Channel: channel, Reason: fmt.Sprintf(format, args...)}
}

func (e *ChannelConfigError) Error() string {
	if e.Channel == "" {
		return "relayflow: " + e.Reason
	}
	return fmt.Sprintf("relayflow: channel %q: %s", e.Channel, e.Reason)
}

func (e *ChannelConfigError) Is(target error) bool {
	return target == ErrChannelConfig
}

// TypeMismatchError is returned by typed sends when the payload does not
// match the channel contract.
type TypeMismatchError struct {
	Channel string
	Want    reflect.Type
	Got     reflect.Type
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("relayflow: wrong message type on channel %q: %v is not %v", e.Channel, e.Got, e.Want)
}

func (e *TypeMismatchError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// ServiceError is raised by command factories for unsupported commands and by
// services that fail a request before it reaches the worker pool.
type ServiceError struct {
	Factory string
	Command string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("relayflow: %s: command %s: %v", e.Factory, e.Command, e.Err)
	}
	return fmt.Sprintf("relayflow: %s does not support command %s", e.Factory, e.Command)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func (e *ServiceError) Is(target error) bool {
	return target == ErrService
}

// ConfigValidationError wraps the joined result of Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "relayflow: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
