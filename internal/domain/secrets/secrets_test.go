package secrets

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestValueUse(t *testing.T) {
	v := New("hunter2")

	var got string
	err := v.Use(func(secret string) error {
		got = secret
		return nil
	})
	if err != nil {
		t.Fatalf("Use() unexpected error: %v", err)
	}
	if got != "hunter2" {
		t.Errorf("Use() passed %q, want %q", got, "hunter2")
	}
}

func TestValueUsePropagatesError(t *testing.T) {
	v := New("hunter2")
	wantErr := errors.New("connection refused")

	err := v.Use(func(string) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("Use() error = %v, want %v", err, wantErr)
	}
}

func TestValueWipe(t *testing.T) {
	v := New("hunter2")
	v.Wipe()

	if !v.Wiped() {
		t.Error("Wiped() = false after Wipe()")
	}
	if err := v.Use(func(string) error { return nil }); !errors.Is(err, ErrWiped) {
		t.Errorf("Use() after Wipe() error = %v, want %v", err, ErrWiped)
	}
}

func TestValueWipeIdempotent(t *testing.T) {
	v := New("hunter2")
	v.Wipe()
	v.Wipe()

	if !v.Wiped() {
		t.Error("Wiped() = false after repeated Wipe()")
	}
}

func TestValueNeverRenders(t *testing.T) {
	v := New("hunter2")

	for name, rendered := range map[string]string{
		"String":  v.String(),
		"Sprintf": fmt.Sprintf("%v", v),
		"GoString": fmt.Sprintf("%#v", v),
	} {
		if strings.Contains(rendered, "hunter2") {
			t.Errorf("%s leaked the secret: %q", name, rendered)
		}
	}
}

func TestValueMarshalJSONRedacts(t *testing.T) {
	v := New("hunter2")

	data, err := json.Marshal(struct {
		Password *Value `json:"password"`
	}{Password: v})
	if err != nil {
		t.Fatalf("Marshal() unexpected error: %v", err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Errorf("Marshal() leaked the secret: %s", data)
	}
	if !strings.Contains(string(data), "[redacted]") {
		t.Errorf("Marshal() = %s, want redaction marker", data)
	}
}
