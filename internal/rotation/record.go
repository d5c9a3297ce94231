package rotation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// MaxRecordPositions bounds the positions a state record may name. Missing
// positions are padded, so a single large key would otherwise allocate a
// pool of that size.
const MaxRecordPositions = 1024

// Record is the portable JSON form of State, keyed by position as a decimal
// string. It matches the state.json files written by earlier installations.
type Record struct {
	CurrentPosition int                    `json:"current_position"`
	APIStates       map[string]RecordEntry `json:"api_states"`
}

type RecordEntry struct {
	Status       string  `json:"status"`
	BlockedUntil *string `json:"blocked_until"`
}

// ToRecord converts st. Deadlines are written as RFC 3339 in UTC.
func ToRecord(st State) Record {
	rec := Record{
		CurrentPosition: st.Cursor,
		APIStates:       make(map[string]RecordEntry, len(st.Credentials)),
	}
	for i, cs := range st.Credentials {
		status := cs.Status
		if status == "" {
			status = StatusAvailable
		}
		entry := RecordEntry{Status: string(status)}
		if !cs.BlockedUntil.IsZero() {
			v := cs.BlockedUntil.UTC().Format(time.RFC3339)
			entry.BlockedUntil = &v
		}
		rec.APIStates[strconv.Itoa(i)] = entry
	}
	return rec
}

// ParseRecord decodes a state record. Deadlines without a zone are read in
// loc, which is how older files stored them.
func ParseRecord(data []byte, loc *time.Location) (State, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return State{}, fmt.Errorf("decode state record: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}

	entries := make(map[int]RecordEntry, len(rec.APIStates))
	positions := make([]int, 0, len(rec.APIStates))
	for key, entry := range rec.APIStates {
		pos, err := strconv.Atoi(key)
		if err != nil || pos < 0 {
			return State{}, fmt.Errorf("state record: bad position %q", key)
		}
		if pos >= MaxRecordPositions {
			return State{}, fmt.Errorf("state record: position %d exceeds limit %d", pos, MaxRecordPositions-1)
		}
		if _, dup := entries[pos]; dup {
			return State{}, fmt.Errorf("state record: position %d listed twice", pos)
		}
		entries[pos] = entry
		positions = append(positions, pos)
	}
	sort.Ints(positions)

	st := State{Cursor: rec.CurrentPosition}
	for _, pos := range positions {
		entry := entries[pos]
		cs := CredentialState{Status: Status(entry.Status)}
		switch cs.Status {
		case StatusAvailable, StatusBlocked:
		default:
			return State{}, fmt.Errorf("state record: position %d: unknown status %q", pos, entry.Status)
		}
		if entry.BlockedUntil != nil && *entry.BlockedUntil != "" {
			t, err := parseDeadline(*entry.BlockedUntil, loc)
			if err != nil {
				return State{}, fmt.Errorf("state record: position %d: %w", pos, err)
			}
			cs.BlockedUntil = t
		}
		for len(st.Credentials) < pos {
			st.Credentials = append(st.Credentials, Available())
		}
		st.Credentials = append(st.Credentials, cs)
	}
	return st, nil
}

func parseDeadline(v string, loc *time.Location) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05", v, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse blocked_until %q: %w", v, err)
	}
	return t, nil
}
