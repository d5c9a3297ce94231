// Package selector picks the one post, if any, that a polling attempt should
// publish.
package selector

import "github.com/ppiankov/relaypan/internal/source"

// Watermark is the identifier of the last published post.
type Watermark struct {
	ID  int64
	Set bool
}

// Covers reports whether id has already been handled.
func (w Watermark) Covers(id int64) bool {
	return w.Set && id <= w.ID
}

// Verdict is what the selector decided about one post.
type Verdict string

const (
	VerdictPinned    Verdict = "pinned"
	VerdictReply     Verdict = "reply"
	VerdictRetweet   Verdict = "retweet"
	VerdictSeen      Verdict = "seen"
	VerdictCandidate Verdict = "candidate"
)

// Decision records the verdict for one scanned post.
type Decision struct {
	PostID  int64
	Verdict Verdict
}

// Result is the outcome of one selection.
type Result struct {
	Candidate source.Post
	Found     bool
	Trail     []Decision // one entry per scanned post, in scan order
}

// Select scans posts newest first and returns the first original post newer
// than the watermark. Scanning stops at the first post the watermark covers,
// since everything after it is at least as old.
func Select(posts []source.Post, pinnedID int64, wm Watermark) Result {
	var res Result
	for _, p := range posts {
		switch {
		case pinnedID != 0 && p.ID == pinnedID:
			res.Trail = append(res.Trail, Decision{PostID: p.ID, Verdict: VerdictPinned})
		case p.IsReply():
			res.Trail = append(res.Trail, Decision{PostID: p.ID, Verdict: VerdictReply})
		case p.IsRetweet():
			res.Trail = append(res.Trail, Decision{PostID: p.ID, Verdict: VerdictRetweet})
		case wm.Covers(p.ID):
			res.Trail = append(res.Trail, Decision{PostID: p.ID, Verdict: VerdictSeen})
			return res
		default:
			res.Trail = append(res.Trail, Decision{PostID: p.ID, Verdict: VerdictCandidate})
			res.Candidate = p
			res.Found = true
			return res
		}
	}
	return res
}
