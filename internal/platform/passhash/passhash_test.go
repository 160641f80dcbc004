package passhash

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/mediclo/mediclo/internal/errs"
)

func TestHashVerify(t *testing.T) {
	h := New(bcrypt.MinCost)

	hash, err := h.Hash("s3cret!")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if hash == "s3cret!" {
		t.Fatal("hash must not equal the plaintext")
	}
	if !h.Verify(hash, "s3cret!") {
		t.Error("expected matching password to verify")
	}
	if h.Verify(hash, "wrong") {
		t.Error("expected wrong password to fail")
	}
	if h.Verify("", "") {
		t.Error("empty hash must never verify")
	}
	if h.Verify("not-a-bcrypt-hash", "s3cret!") {
		t.Error("malformed hash must never verify")
	}
}

func TestHash_TooLongIsInvalidInput(t *testing.T) {
	_, err := New(bcrypt.MinCost).Hash(strings.Repeat("a", 73))
	if !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestNew_ClampsCost(t *testing.T) {
	if got := New(0).Cost; got != bcrypt.DefaultCost {
		t.Errorf("New(0).Cost = %d, want %d", got, bcrypt.DefaultCost)
	}
}

func TestRandomPassword(t *testing.T) {
	a, err := RandomPassword(10)
	if err != nil {
		t.Fatalf("RandomPassword: %v", err)
	}
	if len(a) != 10 {
		t.Fatalf("len = %d, want 10", len(a))
	}
	for _, c := range a {
		if !strings.ContainsRune(passwordAlphabet, c) {
			t.Errorf("unexpected character %q", c)
		}
	}
	b, _ := RandomPassword(10)
	if a == b {
		t.Error("two random passwords are equal")
	}
}
