package application

import (
	"errors"
	"testing"
)

func TestHashAndVerifySecret(t *testing.T) {
	t.Parallel()

	hash, err := HashSecret("rahasia-warga", CodeArgon2idParams)
	if err != nil {
		t.Fatalf("HashSecret returned error: %v", err)
	}
	if err := VerifySecret(hash, "rahasia-warga"); err != nil {
		t.Fatalf("expected secret to verify, got %v", err)
	}
	if err := VerifySecret(hash, "salah"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	again, err := NewArgon2idHasher(CodeArgon2idParams)("rahasia-warga")
	if err != nil {
		t.Fatalf("hasher returned error: %v", err)
	}
	if again == hash {
		t.Fatalf("expected a fresh salt per hash")
	}
}

func TestVerifySecretRejectsMalformedHash(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"plain":                              ErrInvalidSecretHash,
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$a":  ErrInvalidSecretHash,
		"$argon2id$v=1$m=1,t=1,p=1$c2FsdA$a": ErrIncompatibleSecretVersion,
		"$argon2id$v=19$m=x$c2FsdA$a":        ErrInvalidSecretHash,
	}
	for hash, want := range cases {
		if err := VerifySecret(hash, "secret"); !errors.Is(err, want) {
			t.Fatalf("VerifySecret(%q): expected %v, got %v", hash, want, err)
		}
	}
}
