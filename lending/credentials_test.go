package lending

import (
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestHashers(t *testing.T) {
	tests := []struct {
		name   string
		hasher Hasher
	}{
		{"bcrypt", BcryptHasher{Cost: bcrypt.MinCost}},
		{"plain", PlainHasher{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stored, err := tt.hasher.Hash("hunter2")
			if err != nil {
				t.Fatalf("hash: %v", err)
			}
			if !tt.hasher.Compare(stored, "hunter2") {
				t.Fatalf("correct password rejected")
			}
			if tt.hasher.Compare(stored, "hunter3") {
				t.Fatalf("wrong password accepted")
			}
		})
	}
}

func TestBcryptHasherSalts(t *testing.T) {
	h := BcryptHasher{Cost: bcrypt.MinCost}
	a, _ := h.Hash("same")
	b, _ := h.Hash("same")
	if a == b || a == "same" {
		t.Fatalf("bcrypt hashes should be salted and never plaintext")
	}
}
