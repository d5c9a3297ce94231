package rotation

import "time"

// Status is a credential's availability.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBlocked   Status = "blocked"
)

// CredentialState is the cooldown record for one pool position.
// BlockedUntil is zero when unset.
type CredentialState struct {
	Status       Status
	BlockedUntil time.Time
}

// Available is the default state for a position with no record.
func Available() CredentialState {
	return CredentialState{Status: StatusAvailable}
}

// CheckBlocked reports whether s is still cooling down at now. Cooldowns
// expire lazily: a blocked state whose deadline has passed (or is missing)
// comes back as Available. s itself is never modified.
func CheckBlocked(s CredentialState, now time.Time) (bool, CredentialState) {
	if s.Status != StatusBlocked {
		return false, s
	}
	if !s.BlockedUntil.IsZero() && now.Before(s.BlockedUntil) {
		return true, s
	}
	return false, Available()
}

// Block starts a cooldown of d from now.
func Block(_ CredentialState, now time.Time, d time.Duration) CredentialState {
	return CredentialState{
		Status:       StatusBlocked,
		BlockedUntil: now.Add(d),
	}
}
