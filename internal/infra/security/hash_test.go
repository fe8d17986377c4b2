package security

import (
	"strings"
	"testing"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	encoded, err := HashPassword("viaduct-kerfuffle-91")
	if err != nil {
		t.Fatalf("HashPassword returned error: %v", err)
	}

	if !strings.Contains(encoded, ":") {
		t.Fatalf("encoded hash missing salt separator: %q", encoded)
	}
	if strings.Contains(encoded, "viaduct") {
		t.Fatalf("encoded hash leaks the password")
	}

	ok, err := VerifyPassword("viaduct-kerfuffle-91", encoded)
	if err != nil {
		t.Fatalf("VerifyPassword returned error: %v", err)
	}
	if !ok {
		t.Fatalf("correct password must verify")
	}

	ok, err = VerifyPassword("viaduct-kerfuffle-92", encoded)
	if err != nil {
		t.Fatalf("VerifyPassword returned error: %v", err)
	}
	if ok {
		t.Fatalf("wrong password must not verify")
	}
}

func TestHashPassword_UniqueSalts(t *testing.T) {
	first, err := HashPassword("viaduct-kerfuffle-91")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	second, err := HashPassword("viaduct-kerfuffle-91")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if first == second {
		t.Fatalf("two hashes of the same password must differ")
	}
}

func TestVerifyPassword_Malformed(t *testing.T) {
	if ok, err := VerifyPassword("anything", "no-separator"); err == nil || ok {
		t.Fatalf("malformed hash must error, got ok=%v err=%v", ok, err)
	}
	if ok, _ := VerifyPassword("", "salt:hash"); ok {
		t.Fatalf("empty password must not verify")
	}
}

func TestGenerateSecureToken(t *testing.T) {
	first, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("GenerateSecureToken returned error: %v", err)
	}
	second, err := GenerateSecureToken(32)
	if err != nil {
		t.Fatalf("GenerateSecureToken returned error: %v", err)
	}
	if first == second {
		t.Fatalf("tokens must be unique")
	}
	if _, err := GenerateSecureToken(0); err == nil {
		t.Fatalf("zero length must be rejected")
	}
}

func TestHashToken_Deterministic(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Fatalf("hashing must be deterministic")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Fatalf("different inputs must hash differently")
	}
	if HashToken("abc") == "abc" {
		t.Fatalf("hash must not echo the input")
	}
}
