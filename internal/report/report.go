// Package report renders rotation status and publish history for the CLI.
package report

import (
	"io"
	"time"

	"github.com/ppiankov/relaypan/internal/rotation"
	"github.com/ppiankov/relaypan/internal/store"
)

// Credential is one pool position as shown to the operator.
type Credential struct {
	Position int
	Label    string
	Stored   rotation.CredentialState
	// Blocked is the lazily evaluated view at report time; an expired
	// cooldown shows as available even though the store still says blocked.
	Blocked bool
}

// Status is the input for a status report.
type Status struct {
	Username    string
	Cursor      int
	Watermark   int64
	HasMark     bool
	Credentials []Credential
	// Extra holds stored positions beyond the current pool.
	Extra []rotation.CredentialState
	Now   time.Time
}

// History is the input for a history report.
type History struct {
	Published []store.Published
	Runs      []store.Run
	Now       time.Time
}

// Formatter writes reports to w.
type Formatter interface {
	FormatStatus(w io.Writer, s Status) error
	FormatHistory(w io.Writer, h History) error
}

// BuildStatus pairs the stored state with the pool labels, evaluating
// cooldowns at now without changing anything.
func BuildStatus(username string, labels []string, st rotation.State, wm int64, hasMark bool, now time.Time) Status {
	norm := st.Normalize(len(labels))
	out := Status{
		Username:  username,
		Cursor:    norm.Cursor,
		Watermark: wm,
		HasMark:   hasMark,
		Now:       now,
	}
	for i, label := range labels {
		blocked, _ := rotation.CheckBlocked(norm.Credentials[i], now)
		out.Credentials = append(out.Credentials, Credential{
			Position: i,
			Label:    label,
			Stored:   norm.Credentials[i],
			Blocked:  blocked,
		})
	}
	if len(norm.Credentials) > len(labels) {
		out.Extra = norm.Credentials[len(labels):]
	}
	return out
}

// State rebuilds the rotation state the status was made from.
func (s Status) State() rotation.State {
	st := rotation.State{Cursor: s.Cursor}
	for _, c := range s.Credentials {
		st.Credentials = append(st.Credentials, c.Stored)
	}
	st.Credentials = append(st.Credentials, s.Extra...)
	return st
}
