package rotation

// Advance returns the next pool position after cursor, wrapping at n.
// n must be at least 1.
func Advance(cursor, n int) int {
	if n < 1 {
		return 0
	}
	return (cursor + 1) % n
}

// State is the persisted rotation record: where to start next time and every
// position's cooldown.
type State struct {
	Cursor      int
	Credentials []CredentialState // indexed by pool position
}

// Normalize fits s to a pool of n credentials. An out-of-range cursor resets
// to 0 and missing positions default to Available. Records for positions
// beyond n are kept so a pool that grows back finds them again.
func (s State) Normalize(n int) State {
	out := State{
		Cursor:      s.Cursor,
		Credentials: make([]CredentialState, len(s.Credentials)),
	}
	copy(out.Credentials, s.Credentials)

	if out.Cursor < 0 || out.Cursor >= n {
		out.Cursor = 0
	}
	for i := range out.Credentials {
		if out.Credentials[i].Status == "" {
			out.Credentials[i] = Available()
		}
	}
	for len(out.Credentials) < n {
		out.Credentials = append(out.Credentials, Available())
	}
	return out
}
