package model

import (
	"errors"
	"io"
	"testing"
)

func TestRobotsDisallowedIsDiscoveryError(t *testing.T) {
	if !errors.Is(ErrRobotsDisallowed, ErrDiscovery) {
		t.Fatal("expected ErrRobotsDisallowed to wrap ErrDiscovery")
	}
	if !errors.Is(ErrHostNotAllowed, ErrDiscovery) {
		t.Fatal("expected ErrHostNotAllowed to wrap ErrDiscovery")
	}
	if errors.Is(ErrHostNotAllowed, ErrRobotsDisallowed) {
		t.Fatal("host refusal must stay distinct from robots refusal")
	}
}

func TestDiscoveryfKeepsCause(t *testing.T) {
	err := Discoveryf(io.ErrUnexpectedEOF, "feed %s", "simplify")
	if !errors.Is(err, ErrDiscovery) {
		t.Errorf("expected ErrDiscovery in chain, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected cause in chain, got %v", err)
	}

	wrapped := Discoveryf(ErrRobotsDisallowed, "sitemap")
	if !errors.Is(wrapped, ErrRobotsDisallowed) {
		t.Errorf("expected robots refusal preserved, got %v", wrapped)
	}

	if err := Discoveryf(nil, "empty"); !errors.Is(err, ErrDiscovery) {
		t.Errorf("expected ErrDiscovery for nil cause, got %v", err)
	}
}

func TestHTTPErrorMessage(t *testing.T) {
	err := &HTTPError{StatusCode: 404}
	if err.Error() != "HTTP 404" {
		t.Errorf("unexpected message %q", err.Error())
	}
	err = &HTTPError{StatusCode: 500, Err: io.EOF}
	if !errors.Is(err, io.EOF) {
		t.Error("expected Unwrap to expose inner error")
	}
}
