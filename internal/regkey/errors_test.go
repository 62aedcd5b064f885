package regkey

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestOpenRejectsUnknownHive(t *testing.T) {
	key, err := Open(Target{Hive: Hive(99), Path: `Software\TestApp`})
	if key != nil {
		t.Fatal("expected no key for unknown hive")
	}
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected *OpenError, got %T", err)
	}
	if !errors.Is(err, ErrUnknownHive) {
		t.Fatalf("expected ErrUnknownHive, got %v", err)
	}
	if openErr.Path != `Software\TestApp` || openErr.Code != 0 {
		t.Fatalf("unexpected open error fields %+v", openErr)
	}
}

func TestOpenErrorMessage(t *testing.T) {
	err := &OpenError{Hive: CurrentUser, Path: `Software\Missing`, Code: 2, Err: errors.New("not found")}
	message := err.Error()
	if !strings.Contains(message, `HKEY_CURRENT_USER\Software\Missing`) {
		t.Fatalf("expected target in message, got %q", message)
	}
	if !strings.Contains(message, "status 2") {
		t.Fatalf("expected status code in message, got %q", message)
	}
	if !IsOpenError(fmt.Errorf("wrapped: %w", err)) {
		t.Fatal("expected IsOpenError to see through wrapping")
	}
	if IsOpenError(errors.New("other")) {
		t.Fatal("unexpected IsOpenError match")
	}
}
