package server

import (
	"context"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"

	"framechan/message"
	"framechan/middleware"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	messageType = reflect.TypeOf(message.Message(nil))
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// service holds the handler methods found on one receiver.
type service struct {
	name    string
	rcvr    reflect.Value
	typ     reflect.Type
	methods map[string]middleware.HandlerFunc // Keyed by wire method name
}

// newService scans rcvr for exported methods shaped like
//
//	func (r *T) Name(ctx context.Context, req message.Message) (message.Message, error)
//
// and exposes each as wire method "name" (first letter lowered).
func newService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil {
		return nil, fmt.Errorf("server: nil receiver")
	}
	if typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: receiver must be a pointer, got %s", typ.Kind())
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: receiver must point to a struct, got %s", typ.Elem().Kind())
	}

	svc := &service{
		name:    typ.Elem().Name(),
		rcvr:    reflect.ValueOf(rcvr),
		typ:     typ,
		methods: make(map[string]middleware.HandlerFunc),
	}
	svc.registerMethods()

	if len(svc.methods) == 0 {
		return nil, fmt.Errorf("server: %s has no handler methods", svc.name)
	}
	return svc, nil
}

func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		// In(0) is the receiver
		if mt.NumIn() != 3 || mt.NumOut() != 2 ||
			mt.In(1) != contextType || mt.In(2) != messageType ||
			mt.Out(0) != messageType || mt.Out(1) != errorType {
			continue
		}
		s.methods[wireName(method.Name)] = s.bind(method)
	}
}

// bind closes over the receiver so the handler can be called without reflection
// lookups per request.
func (s *service) bind(method reflect.Method) middleware.HandlerFunc {
	fn := method.Func
	return func(ctx context.Context, req message.Message) (message.Message, error) {
		out := fn.Call([]reflect.Value{s.rcvr, reflect.ValueOf(ctx), reflect.ValueOf(req)})
		reply, _ := out[0].Interface().(message.Message)
		if errv := out[1].Interface(); errv != nil {
			return reply, errv.(error)
		}
		return reply, nil
	}
}

func wireName(goName string) string {
	r, size := utf8.DecodeRuneInString(goName)
	return string(unicode.ToLower(r)) + goName[size:]
}
