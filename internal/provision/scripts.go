// Package provision runs the operator-supplied scripts that materialize
// credential bundles and apply network access rules. Both collaborators
// report failure back to the workflow instead of assuming success.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"os/exec"
)

// ScriptIssuer builds the downloadable credential bundle by running the
// make-key script with the requester and credential id.
type ScriptIssuer struct {
	Script string
}

func (s *ScriptIssuer) Issue(ctx context.Context, requester, credentialID string) error {
	return runScript(ctx, s.Script, requester, credentialID)
}

// ScriptEnforcer applies the current target list by running the
// update-access script with the requester, address and full target list.
type ScriptEnforcer struct {
	Script string
}

func (s *ScriptEnforcer) Apply(ctx context.Context, requester string, ip netip.Addr, targets []string) error {
	args := append([]string{requester, ip.String()}, targets...)
	return runScript(ctx, s.Script, args...)
}

func runScript(ctx context.Context, script string, args ...string) error {
	cmd := exec.CommandContext(ctx, script, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		slog.Error("Provisioning script failed", "script", script, "args", args, "output", string(out), "error", err)
		return fmt.Errorf("%s: %w", script, err)
	}
	slog.Debug("Provisioning script finished", "script", script, "args", args)
	return nil
}
