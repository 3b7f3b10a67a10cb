package qdrant

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/efebarandurmaz/stackflow/internal/vector"
)

func TestWrapNotFound(t *testing.T) {
	if wrapNotFound(nil, "kb_x") != nil {
		t.Error("expected nil for nil error")
	}

	err := wrapNotFound(status.Error(codes.NotFound, "gone"), "kb_x")
	if !errors.Is(err, vector.ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound, got %v", err)
	}

	err = wrapNotFound(errors.New("Collection `kb_x` doesn't exist!"), "kb_x")
	if !errors.Is(err, vector.ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound for message match, got %v", err)
	}

	other := status.Error(codes.Unavailable, "down")
	if got := wrapNotFound(other, "kb_x"); got != other {
		t.Errorf("expected other errors untouched, got %v", got)
	}
}

func TestAPIKeyInterceptor(t *testing.T) {
	var seen []string
	invoker := func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		seen = md.Get("api-key")
		return nil
	}

	if err := apiKeyInterceptor("secret")(context.Background(), "/qdrant.Points/Search", nil, nil, nil, invoker); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 || seen[0] != "secret" {
		t.Errorf("expected api-key metadata, got %v", seen)
	}
}

func TestNew_Lazy(t *testing.T) {
	r, err := New("localhost", 6334, "key")
	if err != nil {
		t.Fatalf("expected lazy client, got %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
}
