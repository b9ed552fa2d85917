package raapi

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{429, KindRateLimited},
		{404, KindNotFound},
		{500, KindTransient},
		{503, KindTransient},
		{401, KindPermanent},
		{400, KindPermanent},
	}
	for _, tc := range cases {
		if got := classifyStatus(tc.status); got != tc.want {
			t.Errorf("classifyStatus(%d) = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestKindRetryable(t *testing.T) {
	if !KindTransient.Retryable() || !KindRateLimited.Retryable() {
		t.Fatal("transient and rate-limited must be retryable")
	}
	if KindNotFound.Retryable() || KindPermanent.Retryable() {
		t.Fatal("not-found and permanent must not be retryable")
	}
}

func TestKindOf(t *testing.T) {
	base := &Error{Kind: KindRateLimited, Endpoint: "x", Status: 429, Err: errors.New("slow down")}
	wrapped := fmt.Errorf("cycle: %w", base)

	if got := KindOf(base); got != KindRateLimited {
		t.Fatalf("KindOf(base) = %v", got)
	}
	if got := KindOf(wrapped); got != KindRateLimited {
		t.Fatalf("KindOf(wrapped) = %v", got)
	}
	if got := KindOf(errors.New("plain")); got != KindPermanent {
		t.Fatalf("KindOf(plain) = %v, want permanent", got)
	}
}

func TestErrNotFoundIs(t *testing.T) {
	nf := &Error{Kind: KindNotFound, Endpoint: "x", Status: 404, Err: errors.New("gone")}
	if !errors.Is(nf, ErrNotFound) {
		t.Fatal("not-found error should match ErrNotFound")
	}
	other := &Error{Kind: KindTransient, Endpoint: "x", Err: errors.New("blip")}
	if errors.Is(other, ErrNotFound) {
		t.Fatal("transient error must not match ErrNotFound")
	}
}
