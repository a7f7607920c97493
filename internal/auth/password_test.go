package auth

import (
	"encoding/hex"
	"testing"
)

func TestNewSaltProducesHex(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	if len(salt) != 32 {
		t.Fatalf("expected 32 hex characters, got %d", len(salt))
	}
	if _, err := hex.DecodeString(salt); err != nil {
		t.Fatalf("salt is not hex: %v", err)
	}

	other, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	if salt == other {
		t.Fatal("expected two salts to differ")
	}
}

func TestDeriveHashDeterministic(t *testing.T) {
	salt := "00112233445566778899aabbccddeeff"
	first := DeriveHash("hunter2", salt)
	second := DeriveHash("hunter2", salt)
	if first != second {
		t.Fatalf("expected stable hash, got %q and %q", first, second)
	}
	if len(first) != 128 {
		t.Fatalf("expected 128 hex characters for a 64-byte key, got %d", len(first))
	}
	if _, err := hex.DecodeString(first); err != nil {
		t.Fatalf("hash is not hex: %v", err)
	}
}

func TestDeriveHashVariesWithInputs(t *testing.T) {
	salt := "00112233445566778899aabbccddeeff"
	otherSalt := "ffeeddccbbaa99887766554433221100"

	if DeriveHash("hunter2", salt) == DeriveHash("hunter3", salt) {
		t.Fatal("different passwords must not collide on the same salt")
	}
	if DeriveHash("hunter2", salt) == DeriveHash("hunter2", otherSalt) {
		t.Fatal("different salts must not produce the same hash")
	}
}

func TestVerifyPassword(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	hash := DeriveHash("correct horse", salt)

	cases := []struct {
		name     string
		password string
		salt     string
		hash     string
		want     bool
	}{
		{name: "matching password", password: "correct horse", salt: salt, hash: hash, want: true},
		{name: "wrong password", password: "battery staple", salt: salt, hash: hash, want: false},
		{name: "wrong salt", password: "correct horse", salt: "00112233445566778899aabbccddeeff", hash: hash, want: false},
		{name: "empty password", password: "", salt: salt, hash: hash, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := VerifyPassword(tc.password, tc.salt, tc.hash); got != tc.want {
				t.Fatalf("VerifyPassword = %v, want %v", got, tc.want)
			}
		})
	}
}
