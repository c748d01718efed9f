package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapPreservesCodeThroughChain(t *testing.T) {
	base := errors.New("connection reset")
	err := fmt.Errorf("submit: %w", Wrap(CodeSubmissionFailed, "broadcast transaction", base))

	if !Is(err, CodeSubmissionFailed) {
		t.Fatalf("expected submission_failed in chain, got %v", err)
	}
	if Is(err, CodeEstimationFailed) {
		t.Fatal("unexpected estimation_failed match")
	}
	if !errors.Is(err, base) {
		t.Fatal("expected transport cause to remain reachable")
	}
	if got := ExitCode(err); got != int(CodeSubmissionFailed) {
		t.Fatalf("unexpected exit code %d", got)
	}
}

func TestExitCodeDefaults(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Fatal("nil error must exit 0")
	}
	if ExitCode(errors.New("boom")) != int(CodeInternal) {
		t.Fatal("untyped error must map to internal")
	}
	if CodeStaleNonce.String() != "stale_nonce" {
		t.Fatalf("unexpected code name %q", CodeStaleNonce.String())
	}
	if Code(99).String() != "internal_error" {
		t.Fatal("unknown codes must render as internal_error")
	}
}
