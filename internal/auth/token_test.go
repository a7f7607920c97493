package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer(""); !errors.Is(err, ErrTokenSecretRequired) {
		t.Fatalf("expected ErrTokenSecretRequired, got %v", err)
	}
	if _, err := NewTokenIssuer("   "); !errors.Is(err, ErrTokenSecretRequired) {
		t.Fatalf("expected ErrTokenSecretRequired for blank secret, got %v", err)
	}
}

func TestIssueAndSubjectRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("test-signing-secret")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	token, err := issuer.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("expected a three-part token, got %q", token)
	}

	subject, err := issuer.Subject(token)
	if err != nil {
		t.Fatalf("Subject: %v", err)
	}
	if subject != "alice" {
		t.Fatalf("expected subject alice, got %q", subject)
	}
}

func TestSubjectRejectsForeignSignature(t *testing.T) {
	issuer, err := NewTokenIssuer("test-signing-secret")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	other, err := NewTokenIssuer("another-signing-secret")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	token, err := other.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Subject(token); err == nil {
		t.Fatal("expected verification to fail for a token signed with a different secret")
	}
}

func TestSubjectRejectsTamperedToken(t *testing.T) {
	issuer, err := NewTokenIssuer("test-signing-secret")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	token, err := issuer.Issue("alice")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	tampered := token[:len(token)-2] + "xx"
	if _, err := issuer.Subject(tampered); err == nil {
		t.Fatal("expected verification to fail for a tampered token")
	}
	if _, err := issuer.Subject("not-a-token"); err == nil {
		t.Fatal("expected verification to fail for a malformed token")
	}
}
