package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "operator"}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func writeToken(t *testing.T, path, token string, mod time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(token+"\n"), 0600); err != nil {
		t.Fatalf("failed to write token file: %v", err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestExpiry(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)

	got, ok := Expiry(signedToken(t, exp))
	if !ok {
		t.Fatal("Expiry() ok = false, want true")
	}
	if !got.Equal(exp) {
		t.Errorf("Expiry() = %v, want %v", got, exp)
	}

	if _, ok := Expiry(signedToken(t, time.Time{})); ok {
		t.Error("token without exp should report false")
	}
	if _, ok := Expiry("opaque-api-token"); ok {
		t.Error("opaque token should report false")
	}
}

func TestStatic(t *testing.T) {
	s := Static("  opaque-token \n")
	token, err := s.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "opaque-token" {
		t.Errorf("Token() = %q, want %q", token, "opaque-token")
	}

	if _, err := Static("").Token(); !errors.Is(err, ErrNoToken) {
		t.Errorf("empty static token err = %v, want ErrNoToken", err)
	}
}

func TestStatic_Expired(t *testing.T) {
	s := Static(signedToken(t, time.Now().Add(-time.Minute)))
	if _, err := s.Token(); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, want ErrTokenExpired", err)
	}

	valid := signedToken(t, time.Now().Add(time.Hour))
	token, err := Static(valid).Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != valid {
		t.Error("valid token not returned unchanged")
	}
}

func TestNilSource(t *testing.T) {
	var s *Source
	token, err := s.Token()
	if err != nil || token != "" {
		t.Errorf("nil Token() = %q, %v, want empty, nil", token, err)
	}
	if _, ok := s.ExpiresAt(); ok {
		t.Error("nil ExpiresAt() ok = true")
	}
}

func TestFile_Rotation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	base := time.Now().Add(-time.Hour)

	writeToken(t, path, "first", base)
	s := File(path)

	token, err := s.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "first" {
		t.Errorf("Token() = %q, want %q", token, "first")
	}

	writeToken(t, path, "second", base.Add(time.Minute))
	token, err = s.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "second" {
		t.Errorf("Token() after rotation = %q, want %q", token, "second")
	}
}

func TestFile_Errors(t *testing.T) {
	if _, err := File("/nonexistent/token").Token(); err == nil {
		t.Error("expected error for nonexistent file")
	}

	path := filepath.Join(t.TempDir(), "empty")
	writeToken(t, path, "", time.Now())
	if _, err := File(path).Token(); !errors.Is(err, ErrNoToken) {
		t.Errorf("err = %v, want ErrNoToken", err)
	}
}

func TestFile_ExpiresAt(t *testing.T) {
	exp := time.Now().Add(10 * time.Minute).Truncate(time.Second)
	path := filepath.Join(t.TempDir(), "token")
	writeToken(t, path, signedToken(t, exp), time.Now())

	got, ok := File(path).ExpiresAt()
	if !ok || !got.Equal(exp) {
		t.Errorf("ExpiresAt() = %v, %v, want %v, true", got, ok, exp)
	}
}

func TestLoad(t *testing.T) {
	t.Run("inline token wins", func(t *testing.T) {
		s, err := Load("inline", "/nonexistent")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if token, _ := s.Token(); token != "inline" {
			t.Errorf("Token() = %q, want %q", token, "inline")
		}
	})

	t.Run("token file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "token")
		writeToken(t, path, "from-file", time.Now())

		s, err := Load("", path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if token, _ := s.Token(); token != "from-file" {
			t.Errorf("Token() = %q, want %q", token, "from-file")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load("", "/nonexistent/token"); err == nil {
			t.Error("expected error for missing token file")
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		s, err := Load(" ", "")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if s != nil {
			t.Error("Load() should return nil source")
		}
	})
}
