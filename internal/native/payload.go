package native

import (
	"sync"
	"sync/atomic"
)

// Payload is an opaque token identifying Go state across the native boundary.
//
// Native code only ever sees the integer; the value it names stays in a Go-side
// registry, so the garbage collector never has to track pointers held by the
// engine. The design follows runtime/cgo.Handle.
type Payload uintptr

var (
	payloads    sync.Map // map[Payload]any
	payloadNext atomic.Uintptr
)

// NewPayload registers v and returns a token for it. The token must be released
// with Delete exactly once.
func NewPayload(v any) Payload {
	p := Payload(payloadNext.Add(1))
	payloads.Store(p, v)
	return p
}

// Value returns the value registered for p.
// It panics if p is not a live token.
func (p Payload) Value() any {
	v, ok := payloads.Load(p)
	if !ok {
		panic("native: misuse of an invalid Payload")
	}
	return v
}

// Delete releases the token.
// It panics if p is not a live token, including a second Delete.
func (p Payload) Delete() {
	if _, ok := payloads.LoadAndDelete(p); !ok {
		panic("native: misuse of an invalid Payload")
	}
}

// Live reports whether p is still registered.
func (p Payload) Live() bool {
	_, ok := payloads.Load(p)
	return ok
}
