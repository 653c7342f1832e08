// Package codec serialises channel payloads. Types implementing proto.Message
// use the protobuf binary encoding; everything else is JSON.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"

	"google.golang.org/protobuf/proto"

	"github.com/drblury/relayflow/internal/runtime/jsoncodec"
)

var protoMessageType = reflect.TypeOf((*proto.Message)(nil)).Elem()

// ErrNilPayload is returned for nil payloads, including typed nil pointers.
// A nil pointer would otherwise travel as JSON null and decode as a zero value.
var ErrNilPayload = errors.New("relayflow: cannot encode nil payload")

// Marshal encodes v.
func Marshal(v any) ([]byte, error) {
	if v == nil {
		return nil, ErrNilPayload
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, fmt.Errorf("%w: %T", ErrNilPayload, v)
	}
	if m, ok := v.(proto.Message); ok {
		return proto.Marshal(m)
	}
	return jsoncodec.Marshal(v)
}

// Unmarshal decodes data into a fresh value of t, which must be a pointer type.
func Unmarshal(data []byte, t reflect.Type) (any, error) {
	if t == nil || t.Kind() != reflect.Pointer {
		return nil, fmt.Errorf("relayflow: cannot decode into %v", t)
	}
	v := reflect.New(t.Elem()).Interface()
	if t.Implements(protoMessageType) {
		if err := proto.Unmarshal(data, v.(proto.Message)); err != nil {
			return nil, err
		}
		return v, nil
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("relayflow: empty payload for %v", t)
	}
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, fmt.Errorf("%w: null document for %v", ErrNilPayload, t)
	}
	if err := jsoncodec.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

// IsProto reports whether t is encoded with protobuf.
func IsProto(t reflect.Type) bool {
	return t != nil && t.Implements(protoMessageType)
}
