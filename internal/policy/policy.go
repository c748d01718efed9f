// Package policy gates which commands a run may execute. Agents driving the
// CLI can be limited to read-only paths such as "plan build" and "estimate".
package policy

import (
	"strings"

	clierr "github.com/ggonzalez94/tomo-cli/internal/errors"
)

// alwaysAllowed never touch keys or the network.
var alwaysAllowed = []string{"", "schema", "version", "help"}

// CheckCommandAllowed returns CodeBlocked when an allowlist is configured
// and commandPath is not on it. A listed parent ("permit") allows its
// subcommands ("permit sign").
func CheckCommandAllowed(allowlist []string, commandPath string) error {
	if len(allowlist) == 0 {
		return nil
	}
	normPath := normalize(commandPath)
	for _, allowed := range alwaysAllowed {
		if normPath == allowed {
			return nil
		}
	}
	for _, allowed := range allowlist {
		norm := normalize(allowed)
		if norm == normPath || strings.HasPrefix(normPath, norm+" ") {
			return nil
		}
	}
	return clierr.Newf(clierr.CodeBlocked, "command %q blocked by --enable-commands policy", normPath)
}

func normalize(v string) string {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(v)))
	return strings.Join(parts, " ")
}
