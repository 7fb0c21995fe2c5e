package notify

import (
	"context"
	"log/slog"
	"strings"
)

// RoleResolver looks up the role binding for a pane. An empty result means
// the role could not be determined.
type RoleResolver interface {
	ResolveRole(ctx context.Context, session, pane string) string
}

// Router decides whether a completion event proceeds to notification.
// It is a pure function of the resolved role and the current lists, evaluated
// fresh per call: role bindings and configuration may change between events,
// so nothing is cached.
type Router struct {
	allowlist []string
	blocklist []string
	resolver  RoleResolver
}

// NewRouter creates a router. A non-empty allowlist takes precedence over the
// blocklist.
func NewRouter(allowlist, blocklist []string, resolver RoleResolver) *Router {
	return &Router{allowlist: allowlist, blocklist: blocklist, resolver: resolver}
}

// ShouldSkip reports whether the event must be suppressed. A roleHint
// supplied by the caller is used directly, avoiding a redundant lookup.
// An unresolvable role always skips: notifying on misattributed or
// indeterminate context is worse than missing a notification.
func (r *Router) ShouldSkip(ctx context.Context, session, pane, roleHint string) bool {
	role := strings.TrimSpace(roleHint)
	if role == "" && r.resolver != nil {
		role = strings.TrimSpace(r.resolver.ResolveRole(ctx, session, pane))
	}
	if role == "" {
		notifyLog.Debug("skip_unknown_role",
			slog.String("session", session),
			slog.String("pane", pane))
		return true
	}

	if len(r.allowlist) > 0 {
		for _, allowed := range r.allowlist {
			if role == allowed {
				return false
			}
		}
		return true
	}

	for _, blocked := range r.blocklist {
		if blocked == "" {
			continue
		}
		if role == blocked || strings.Contains(role, blocked) {
			return true
		}
	}
	return false
}
