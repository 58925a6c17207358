package session

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)
	token, err := iss.Issue("alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	user, err := iss.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if user != "alice" {
		t.Fatalf("user = %q, want alice", user)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, _ := NewIssuer("secret", time.Hour).Issue("alice")
	if _, err := NewIssuer("other", time.Hour).Verify(token); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	iss := NewIssuer("secret", time.Minute)
	issued := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	iss.now = func() time.Time { return issued }
	token, err := iss.Issue("alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	iss.now = func() time.Time { return issued.Add(2 * time.Minute) }
	if _, err := iss.Verify(token); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session")

	if _, err := Load(path); !errors.Is(err, ErrNoSession) {
		t.Fatalf("load missing: got %v, want ErrNoSession", err)
	}
	if err := Save(path, "tok"); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != "tok" {
		t.Fatalf("token = %q", got)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("clear twice: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrNoSession) {
		t.Fatalf("load after clear: got %v", err)
	}
}
