package security_test

import (
	"testing"

	"github.com/tradepost-labs/tradepost-backend/pkg/security"
)

func TestGenerateVerificationCode(t *testing.T) {
	code, err := security.GenerateVerificationCode()
	if err != nil {
		t.Fatalf("GenerateVerificationCode returned error: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected six digits, got %q", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("expected numeric code, got %q", code)
		}
	}
}

func TestHashAndVerifyVerificationCode(t *testing.T) {
	hash, err := security.HashVerificationCode("042137")
	if err != nil {
		t.Fatalf("HashVerificationCode returned error: %v", err)
	}
	if hash == "" {
		t.Fatal("HashVerificationCode returned empty string")
	}

	ok, err := security.VerifyVerificationCode("042137", hash)
	if err != nil {
		t.Fatalf("VerifyVerificationCode returned error for valid hash: %v", err)
	}
	if !ok {
		t.Fatal("VerifyVerificationCode failed for the correct code")
	}

	ok, err = security.VerifyVerificationCode("999999", hash)
	if err != nil {
		t.Fatalf("VerifyVerificationCode returned error for wrong code: %v", err)
	}
	if ok {
		t.Fatal("VerifyVerificationCode returned true for the wrong code")
	}
}

func TestVerifyVerificationCodeBadHash(t *testing.T) {
	if _, err := security.VerifyVerificationCode("123456", "not-a-hash"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
}
