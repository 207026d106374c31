package domain

import (
	"errors"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	if !IsRejected(ErrRoomFull) || IsInvalidInput(ErrRoomFull) || IsFault(ErrRoomFull) {
		t.Error("ErrRoomFull must classify as rejected only")
	}
	if !IsInvalidInput(ErrMessageTooLong) || IsRejected(ErrMessageTooLong) {
		t.Error("ErrMessageTooLong must classify as invalid input only")
	}

	fault := Fault("read random", errors.New("boom"))
	if !IsFault(fault) || IsRejected(fault) {
		t.Error("Fault must classify as fault only")
	}
}

func TestPublicMessage(t *testing.T) {
	if got := PublicMessage(ErrRoomNotFound); got != "Room not found" {
		t.Errorf("Unexpected message %q", got)
	}

	fault := Fault("cipher", errors.New("key schedule failed at 0xdeadbeef"))
	if got := PublicMessage(fault); got != "Something went wrong" {
		t.Errorf("Fault details leaked: %q", got)
	}
	if PublicMessage(nil) != "" {
		t.Error("Expected empty message for nil error")
	}
}
