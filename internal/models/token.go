package models

import "time"

// MachineScopes is the fixed scope set granted to editor-platform machine tokens.
var MachineScopes = []string{"app_market_config", "app_market_read", "app_application_read"}

// TokenResult is the outcome of a successful client-credentials issuance.
type TokenResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   int64
	ExpiresAt   time.Time
	Scope       string
}

// TokenStatus is a read-only projection of a machine token's state.
type TokenStatus struct {
	ExpiresAt  time.Time
	ExpiresIn  int64
	Scopes     []string
	LastUsedAt *time.Time
	Valid      bool
}

// ExpiresSoon reports whether the token is within threshold of expiry and so
// eligible for proactive refresh.
func (s TokenStatus) ExpiresSoon(threshold time.Duration, now time.Time) bool {
	return s.ExpiresAt.Before(now.Add(threshold))
}

type MachineAuthState string

const (
	MachineNotReady         MachineAuthState = "not_ready"
	MachineAuthenticated    MachineAuthState = "authenticated"
	MachineTokenExpired     MachineAuthState = "token_expired"
	MachineNotAuthenticated MachineAuthState = "not_authenticated"
)

// MachineStatus describes an editor's machine-auth posture, used by the
// auto-refresh sweep and the status endpoint.
type MachineStatus struct {
	EditorId   string
	EditorName string
	State      MachineAuthState
	Token      *TokenStatus
}

func (s MachineStatus) NeedsRefresh() bool {
	return s.State == MachineTokenExpired || s.State == MachineNotAuthenticated
}
