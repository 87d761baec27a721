package callerr

import (
	"errors"
	"io"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	err := Wrap("apply remote", ErrStateConflict, "offer while have-local-offer")
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}
	if got, want := err.Error(), "apply remote: signaling state conflict (offer while have-local-offer)"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestJoinKeepsCause(t *testing.T) {
	err := Join("dial relay", ErrConnection, io.ErrUnexpectedEOF)
	if !errors.Is(err, ErrConnection) {
		t.Fatalf("sentinel lost: %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("cause lost: %v", err)
	}

	if err := Join("dial relay", ErrConnection, nil); err.Error() != "dial relay: relay connection failed" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
