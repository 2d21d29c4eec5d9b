package pager

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
)

// fakeFeed serves pages keyed by href and counts fetches.
type fakeFeed struct {
	pages   map[string]Page[int]
	fetches []string
	failOn  string
}

func (f *fakeFeed) fetch(_ context.Context, href string) (Page[int], error) {
	f.fetches = append(f.fetches, href)
	if href == f.failOn {
		return Page[int]{}, errors.New("connection reset")
	}
	return f.pages[href], nil
}

// newestFirst builds a three page feed holding 9..1 (newest first).
func newestFirst() *fakeFeed {
	return &fakeFeed{pages: map[string]Page[int]{
		"p1": {Items: []int{9, 8, 7}, Next: "p2"},
		"p2": {Items: []int{6, 5, 4}, Next: "p3"},
		"p3": {Items: []int{3, 2, 1}},
	}}
}

func TestWalk_AllPagesChronological(t *testing.T) {
	feed := newestFirst()

	got, err := Walk(context.Background(), "p1", feed.fetch, nil)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
	assert.Equal(t, []string{"p1", "p2", "p3"}, feed.fetches)
}

func TestWalk_StopPredicateHaltsWithoutOverFetching(t *testing.T) {
	feed := newestFirst()

	got, err := Walk(context.Background(), "p1", feed.fetch, func(n int) bool { return n == 5 })
	require.NoError(t, err)

	assert.Equal(t, []int{6, 7, 8, 9}, got)
	assert.Equal(t, []string{"p1", "p2"}, feed.fetches, "p3 must not be fetched")
}

func TestWalk_StopOnFirstRecord(t *testing.T) {
	feed := newestFirst()

	got, err := Walk(context.Background(), "p1", feed.fetch, func(n int) bool { return n == 9 })
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Len(t, feed.fetches, 1)
}

func TestWalk_EmptyPage(t *testing.T) {
	feed := &fakeFeed{pages: map[string]Page[int]{"p1": {}}}

	got, err := Walk(context.Background(), "p1", feed.fetch, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWalk_ErrorAbortsWholeWalk(t *testing.T) {
	feed := newestFirst()
	feed.failOn = "p3"

	got, err := Walk(context.Background(), "p1", feed.fetch, nil)
	require.Error(t, err)
	assert.Nil(t, got)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestWalk_DetectsCycle(t *testing.T) {
	feed := &fakeFeed{pages: map[string]Page[int]{
		"p1": {Items: []int{2}, Next: "p2"},
		"p2": {Items: []int{1}, Next: "p1"},
	}}

	_, err := Walk(context.Background(), "p1", feed.fetch, nil)

	var verr *models.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "p1", verr.Record)
}

func TestWalk_LongChainDoesNotRecurse(t *testing.T) {
	const pages = 20000
	fetch := func(_ context.Context, href string) (Page[int], error) {
		n, err := strconv.Atoi(href)
		if err != nil {
			return Page[int]{}, err
		}
		next := ""
		if n+1 < pages {
			next = strconv.Itoa(n + 1)
		}
		return Page[int]{Items: []int{pages - n}, Next: next}, nil
	}

	got, err := Walk(context.Background(), "0", fetch, nil)
	require.NoError(t, err)
	require.Len(t, got, pages)
	assert.Equal(t, 1, got[0])
	assert.Equal(t, pages, got[pages-1])
}

func TestWalk_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Walk(ctx, "p1", newestFirst().fetch, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
