package security

import "testing"

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple", 4)
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}

	if !CheckPassword(hash, "correct horse battery staple") {
		t.Error("expected matching password to check out")
	}

	if CheckPassword(hash, "wrong password") {
		t.Error("expected mismatched password to fail")
	}
}
