package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newStates(t *testing.T, secret string) *jwtStates {
	t.Helper()
	s, err := NewJWTStates(secret, 5*time.Minute)
	if err != nil {
		t.Fatalf("NewJWTStates: %v", err)
	}
	return s.(*jwtStates)
}

func TestConsume_ValidStateOnce(t *testing.T) {
	t.Parallel()

	s := newStates(t, "secret")
	state, err := s.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := s.Consume(state); err != nil {
		t.Fatalf("expected a fresh state to verify, got %v", err)
	}
	if err := s.Consume(state); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected reuse to fail, got %v", err)
	}
}

func TestConsume_Expired(t *testing.T) {
	t.Parallel()

	s := newStates(t, "secret")
	now := time.Now()
	s.now = func() time.Time { return now }
	state, err := s.Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	s.now = func() time.Time { return now.Add(6 * time.Minute) }
	if err := s.Consume(state); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected an expired state to fail, got %v", err)
	}
}

func TestConsume_OtherKey(t *testing.T) {
	t.Parallel()

	state, err := newStates(t, "one").Issue()
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := newStates(t, "two").Consume(state); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected a foreign signature to fail, got %v", err)
	}
}

func TestConsume_WrongSigningMethod(t *testing.T) {
	t.Parallel()

	claims := jwt.RegisteredClaims{
		ID:        "x",
		Issuer:    stateIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := newStates(t, "secret").Consume(state); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected HS384 to be rejected, got %v", err)
	}
}

func TestConsume_Garbage(t *testing.T) {
	t.Parallel()

	for _, state := range []string{"", "random", "a.b.c"} {
		if err := newStates(t, "").Consume(state); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("expected %q to be rejected, got %v", state, err)
		}
	}
}
