package api

import (
	"errors"
	"fmt"
	"testing"
)

func TestSerializationError_WrapsCause(t *testing.T) {
	cause := errors.New("cannot encode channel")
	err := &SerializationError{WorkerID: "w1", Err: cause}

	if !errors.Is(err, cause) {
		t.Fatal("SerializationError does not unwrap to its cause")
	}
	if !IsSerializationError(err) {
		t.Fatal("IsSerializationError rejected SerializationError")
	}
	if !IsSerializationError(fmt.Errorf("context: %w", err)) {
		t.Fatal("IsSerializationError rejected wrapped SerializationError")
	}
	if IsSerializationError(errors.New("other")) {
		t.Fatal("IsSerializationError accepted unrelated error")
	}
}

func TestStorageWriteError_WrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := &StorageWriteError{WorkerID: "w1", StorageKey: "k", Attempts: 4, Err: cause}

	if !errors.Is(err, cause) {
		t.Fatal("StorageWriteError does not unwrap to its cause")
	}
	var writeErr *StorageWriteError
	if !errors.As(fmt.Errorf("wrap: %w", err), &writeErr) {
		t.Fatal("errors.As failed on wrapped StorageWriteError")
	}
	if writeErr.Attempts != 4 {
		t.Fatalf("Attempts = %d, want 4", writeErr.Attempts)
	}
}

func TestManifestEntry_Complete(t *testing.T) {
	entry := ManifestEntry{Status: EntryPending}
	if entry.Complete() {
		t.Fatal("PENDING entry reported complete")
	}
	entry.Status = EntryComplete
	if !entry.Complete() {
		t.Fatal("COMPLETE entry reported incomplete")
	}
	entry.Status = EntryAbandoned
	if entry.Complete() {
		t.Fatal("INCOMPLETE entry reported complete")
	}
}
