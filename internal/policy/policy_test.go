package policy

import (
	"testing"

	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
)

func TestCheckCommandAllowed(t *testing.T) {
	if err := CheckCommandAllowed(nil, "execute"); err != nil {
		t.Fatalf("unexpected error with empty allowlist: %v", err)
	}
	allow := []string{"plan build", " Estimate ", "permit"}
	for _, path := range []string{"plan build", "estimate", "permit sign", "permit verify", "schema", "version"} {
		if err := CheckCommandAllowed(allow, path); err != nil {
			t.Fatalf("expected %q to be allowed: %v", path, err)
		}
	}
	for _, path := range []string{"execute", "approve", "plan", "permits sign"} {
		err := CheckCommandAllowed(allow, path)
		if !clierr.Is(err, clierr.CodeBlocked) {
			t.Fatalf("expected %q to be blocked, got %v", path, err)
		}
	}
}
