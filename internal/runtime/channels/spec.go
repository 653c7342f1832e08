package channels

import (
	"fmt"
	"reflect"
	"strings"
)

// Spec is the message contract of one channel. Types are pointer types such as
// *msg.ProviderRequest, or any proto.Message implementation.
type Spec struct {
	Name      string
	SendType  reflect.Type
	RecvType  reflect.Type
	ReplyType reflect.Type
	// Param is the capture of a dynamic pattern, e.g. the service name in
	// /worker/state/<service>. Empty for static entries.
	Param string
}

func newSpec(name string, send, recv, reply reflect.Type) Spec {
	if recv == nil {
		recv = send
	}
	if reply == nil {
		reply = send
	}
	return Spec{Name: name, SendType: send, RecvType: recv, ReplyType: reply}
}

func (s Spec) String() string {
	return fmt.Sprintf("%s send=%v recv=%v reply=%v", s.Name, s.SendType, s.RecvType, s.ReplyType)
}

// Normalize strips trailing separators from a channel name. The root "/" is kept.
func Normalize(name string) string {
	trimmed := strings.TrimRight(name, "/")
	if trimmed == "" && strings.HasPrefix(name, "/") {
		return "/"
	}
	return trimmed
}

// TypeOf returns the reflect.Type of *T, the form channel contracts use.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil))
}
