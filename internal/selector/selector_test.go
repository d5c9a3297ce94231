package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/relaypan/internal/source"
)

func original(id int64) source.Post {
	return source.Post{ID: id, Text: "post"}
}

func reply(id int64) source.Post {
	return source.Post{ID: id, InReplyTo: "77"}
}

func retweet(id int64) source.Post {
	return source.Post{ID: id, References: []source.Reference{{Type: "retweeted", ID: 1}}}
}

func quote(id int64) source.Post {
	return source.Post{ID: id, References: []source.Reference{{Type: "quoted", ID: 1}}}
}

func TestSelectFirstOriginalWins(t *testing.T) {
	posts := []source.Post{original(1010), original(1009)}

	res := Select(posts, 0, Watermark{ID: 1000, Set: true})

	require.True(t, res.Found)
	assert.Equal(t, int64(1010), res.Candidate.ID)
	assert.Len(t, res.Trail, 1)
}

func TestSelectSkipsPinnedReplyRetweet(t *testing.T) {
	posts := []source.Post{original(1020), reply(1019), retweet(1018), original(1017)}

	res := Select(posts, 1020, Watermark{ID: 1000, Set: true})

	require.True(t, res.Found)
	assert.Equal(t, int64(1017), res.Candidate.ID)
	assert.Equal(t, []Decision{
		{PostID: 1020, Verdict: VerdictPinned},
		{PostID: 1019, Verdict: VerdictReply},
		{PostID: 1018, Verdict: VerdictRetweet},
		{PostID: 1017, Verdict: VerdictCandidate},
	}, res.Trail)
}

func TestSelectQuoteIsOriginal(t *testing.T) {
	res := Select([]source.Post{quote(1001)}, 0, Watermark{})

	require.True(t, res.Found)
	assert.Equal(t, int64(1001), res.Candidate.ID)
}

func TestSelectStopsAtWatermark(t *testing.T) {
	// 998 is original and older than the watermark; scanning must not reach it.
	posts := []source.Post{reply(1003), original(1000), original(998)}

	res := Select(posts, 0, Watermark{ID: 1000, Set: true})

	assert.False(t, res.Found)
	require.Len(t, res.Trail, 2)
	assert.Equal(t, VerdictSeen, res.Trail[1].Verdict)
}

func TestSelectUnsetWatermarkTakesNewest(t *testing.T) {
	res := Select([]source.Post{original(5), original(4)}, 0, Watermark{})

	require.True(t, res.Found)
	assert.Equal(t, int64(5), res.Candidate.ID)
}

func TestSelectExhaustsBatch(t *testing.T) {
	res := Select([]source.Post{reply(9), retweet(8)}, 0, Watermark{ID: 1, Set: true})

	assert.False(t, res.Found)
	assert.Len(t, res.Trail, 2)
}

func TestSelectEmpty(t *testing.T) {
	res := Select(nil, 0, Watermark{})
	assert.False(t, res.Found)
	assert.Empty(t, res.Trail)
}

func TestSelectNeverReturnsExcluded(t *testing.T) {
	wm := Watermark{ID: 100, Set: true}
	batches := [][]source.Post{
		{reply(200), retweet(199), original(150)},
		{retweet(300)},
		{original(400), reply(399)},
		{reply(101), original(100)},
	}
	pinned := int64(400)

	for _, batch := range batches {
		res := Select(batch, pinned, wm)
		if !res.Found {
			continue
		}
		c := res.Candidate
		assert.NotEqual(t, pinned, c.ID)
		assert.False(t, c.IsReply())
		assert.False(t, c.IsRetweet())
		assert.False(t, wm.Covers(c.ID))
	}
}

func TestWatermarkCovers(t *testing.T) {
	assert.False(t, Watermark{}.Covers(1))
	assert.True(t, Watermark{ID: 10, Set: true}.Covers(10))
	assert.True(t, Watermark{ID: 10, Set: true}.Covers(9))
	assert.False(t, Watermark{ID: 10, Set: true}.Covers(11))
}
