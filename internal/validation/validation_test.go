package validation

import (
	"errors"
	"strings"
	"testing"
)

type sample struct {
	Name  string `validate:"required,max=5"`
	Kind  string `validate:"omitempty,oneof=a b"`
	Count int    `validate:"min=1"`
}

func TestStruct(t *testing.T) {
	if err := Struct(sample{Name: "ok", Count: 1}); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}

	err := Struct(sample{Name: "too long", Kind: "c"})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	for _, want := range []string{"name must be at most 5 characters", "kind must be one of: a b", "count must be at least 1"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %q", want, err.Error())
		}
	}

	if err := Struct(sample{Count: 1}); err == nil || !strings.Contains(err.Error(), "name is required") {
		t.Errorf("expected required message, got %v", err)
	}
}
