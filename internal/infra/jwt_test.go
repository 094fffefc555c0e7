package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"dispatch/internal/modules/ride"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v, err := NewJWTVerifier("s3cret")
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	tok, err := v.Sign("driver-1", "driver", time.Minute)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	got, err := v.VerifyIDToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("VerifyIDToken: %v", err)
	}
	if got.UID != "driver-1" {
		t.Errorf("uid = %q, want driver-1", got.UID)
	}
	if got.Claims["role"] != "driver" {
		t.Errorf("role claim = %v, want driver", got.Claims["role"])
	}
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v, _ := NewJWTVerifier("s3cret")
	other, _ := NewJWTVerifier("other")

	expired, _ := v.Sign("u", "passenger", -time.Minute)
	foreign, _ := other.Sign("u", "passenger", time.Minute)
	noSub, _ := v.Sign("", "passenger", time.Minute)

	cases := map[string]string{
		"garbage": "not-a-jwt",
		"expired": expired,
		"foreign": foreign,
		"no sub":  noSub,
	}
	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := v.VerifyIDToken(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestNewJWTVerifier_EmptySecret(t *testing.T) {
	if _, err := NewJWTVerifier(""); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestRoutingKeyAndTopic(t *testing.T) {
	if got := RoutingKey(ride.Event{ToStatus: ride.StatusAccepted}); got != "ride.status.accepted" {
		t.Errorf("RoutingKey = %q", got)
	}
	if got := UserTopic("abc"); got != "user-abc" {
		t.Errorf("UserTopic = %q", got)
	}
}
