package auth

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name       string
		password   string
		shouldFail bool
	}{
		{name: "valid strong password", password: "SecureP@ss123"},
		{name: "too short", password: "Pass@1", shouldFail: true},
		{name: "missing uppercase", password: "securepass@123", shouldFail: true},
		{name: "missing lowercase", password: "SECUREPASS@123", shouldFail: true},
		{name: "missing digit", password: "SecurePass@xyz", shouldFail: true},
		{name: "missing special", password: "SecurePass123", shouldFail: true},
		{name: "too long for bcrypt", password: "Aa1!" + strings.Repeat("x", 70), shouldFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.shouldFail {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				var pve *PasswordValidationError
				if !errors.As(err, &pve) {
					t.Fatalf("expected PasswordValidationError, got %T", err)
				}
				if err.Error() != "invalid password" {
					t.Errorf("error message leaks rules: %q", err.Error())
				}
				return
			}
			if err != nil {
				t.Errorf("expected no error, got: %v", err)
			}
		})
	}
}

func TestHasher_HashAndMatch(t *testing.T) {
	h := Hasher{Cost: bcrypt.MinCost}

	hash, err := h.Hash("raw-reset-token")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if hash == "raw-reset-token" {
		t.Fatal("hash should not equal the secret")
	}
	if !h.Matches(hash, "raw-reset-token") {
		t.Error("Matches should accept the original secret")
	}
	if h.Matches(hash, "raw-reset-tokeN") {
		t.Error("Matches should reject a different secret")
	}
	if h.Matches("", "raw-reset-token") || h.Matches(hash, "") {
		t.Error("Matches should reject empty inputs")
	}
}

func TestHasher_EmptySecret(t *testing.T) {
	if _, err := (Hasher{Cost: bcrypt.MinCost}).Hash(""); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestComparePassword(t *testing.T) {
	hashed, err := Hasher{Cost: bcrypt.MinCost}.Hash("SecureP@ss123")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if err := ComparePassword(hashed, "SecureP@ss123"); err != nil {
		t.Errorf("ComparePassword with correct password failed: %v", err)
	}
	if err := ComparePassword(hashed, "WrongPassword123!"); err == nil {
		t.Error("ComparePassword with wrong password should fail")
	}
}

func TestCommonPasswordRejection(t *testing.T) {
	// Satisfies every character rule, but lowercases to a listed password
	err := ValidatePassword("Password123!")
	var pve *PasswordValidationError
	if !errors.As(err, &pve) {
		t.Fatalf("expected rejection, got %v", err)
	}
	found := false
	for _, problem := range pve.Errors {
		if problem == "is too common" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected common-password problem, got %v", pve.Errors)
	}
}
