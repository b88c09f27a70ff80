// Package secrets provides a scoped handle for write-only secret values.
// A Value is acquired, consumed by the calls that need it, and wiped on
// every exit path. It never renders in logs, output, or serialized state.
package secrets

import (
	"errors"
	"sync"
)

// ErrWiped is returned when a wiped value is used again.
var ErrWiped = errors.New("secret value has been wiped")

// Value holds a secret as mutable bytes so it can be zeroed after use.
// The embedded mutex makes the type non-copyable under go vet.
type Value struct {
	mu    sync.Mutex
	data  []byte
	wiped bool
}

// New copies the given secret into a fresh handle. The caller should drop
// its own reference to the source string immediately.
func New(secret string) *Value {
	return &Value{data: []byte(secret)}
}

// Use invokes fn with the secret value. The secret must not escape the
// callback; callers embed it into exactly the request that needs it.
func (v *Value) Use(fn func(secret string) error) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.wiped {
		return ErrWiped
	}
	return fn(string(v.data))
}

// Wipe zeroes the secret bytes. Safe to call multiple times; callers defer
// it so the secret is invalidated on success, error, and cancellation alike.
func (v *Value) Wipe() {
	v.mu.Lock()
	defer v.mu.Unlock()

	for i := range v.data {
		v.data[i] = 0
	}
	v.data = nil
	v.wiped = true
}

// Wiped reports whether the value has been invalidated.
func (v *Value) Wiped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.wiped
}

// String implements fmt.Stringer and always redacts.
func (v *Value) String() string {
	return "[redacted]"
}

// GoString keeps %#v output redacted as well.
func (v *Value) GoString() string {
	return "secrets.Value{[redacted]}"
}

// MarshalJSON redacts the value in any serialized structure.
func (v *Value) MarshalJSON() ([]byte, error) {
	return []byte(`"[redacted]"`), nil
}
