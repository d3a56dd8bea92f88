package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/feed-system/feed-system/internal/cache"
	"github.com/feed-system/feed-system/internal/models"
	"github.com/feed-system/feed-system/internal/repository"
	"github.com/feed-system/feed-system/pkg/logger"
)

// PostView is a hydrated timeline entry, ready for the HTTP surface.
type PostView struct {
	ID             int64     `json:"id"`
	AuthorID       int64     `json:"author_id"`
	AuthorUsername string    `json:"author_username"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// TimelineResult carries the page plus enough provenance for callers (and
// tests) to distinguish a degraded read from a normal one.
type TimelineResult struct {
	Posts   []PostView
	Source  string // "cache", "cache+pull", or "database"
	HasMore bool
}

const (
	sourceCache        = "cache"
	sourceCacheAndPull = "cache+pull"
	sourceDatabase     = "database"
	celebrityPullLimit = 20 // most recent celebrity posts fetched per read for the pull merge
)

// TimelineReader implements get_timeline (component G): a cache-first read
// of the viewer's push timeline, merged with a live pull of posts from any
// celebrities they follow, with a full database fallback when the cache is
// unavailable.
type TimelineReader struct {
	posts     *repository.PostRepository
	follows   *repository.FollowRepository
	users     *repository.UserRepository
	timelines *cache.TimelineCache
	log       *logger.Logger
	lookback  time.Duration
}

func NewTimelineReader(posts *repository.PostRepository, follows *repository.FollowRepository, users *repository.UserRepository, timelines *cache.TimelineCache, log *logger.Logger, lookback time.Duration) *TimelineReader {
	return &TimelineReader{posts: posts, follows: follows, users: users, timelines: timelines, log: log, lookback: lookback}
}

func (r *TimelineReader) GetTimeline(ctx context.Context, viewerID int64, offset, limit int) (*TimelineResult, error) {
	if !r.timelines.Available(ctx) {
		r.log.WithField("user_id", viewerID).Warn("timeline cache unavailable, falling back to database scan")
		return r.fallback(ctx, viewerID, offset, limit)
	}

	pushed, err := r.timelines.Range(ctx, viewerID, 0, offset+limit+1)
	if err != nil {
		r.log.WithError(err).WithField("user_id", viewerID).Warn("timeline cache read failed, falling back to database scan")
		return r.fallback(ctx, viewerID, offset, limit)
	}

	celebrities, err := r.follows.FollowedCelebritiesOf(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("load followed celebrities: %w", err)
	}

	if len(celebrities) == 0 {
		page, hasMore := paginate(pushed, offset, limit)
		return r.hydrate(ctx, page, hasMore, sourceCache)
	}

	since := time.Now().Add(-r.lookback)
	pulled, err := r.posts.RecentPostsByAuthors(ctx, celebrities, since, celebrityPullLimit)
	if err != nil {
		return nil, fmt.Errorf("pull celebrity posts: %w", err)
	}

	merged := mergeDedup(pushed, toEntries(pulled))
	page, hasMore := paginate(merged, offset, limit)
	return r.hydrate(ctx, page, hasMore, sourceCacheAndPull)
}

// fallback reconstructs the page directly from the database when the cache
// is down, per the degradation policy: the read never fails outright just
// because the cache is unavailable.
func (r *TimelineReader) fallback(ctx context.Context, viewerID int64, offset, limit int) (*TimelineResult, error) {
	followed, err := r.follows.FollowedUserIDs(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("load followed user ids: %w", err)
	}
	since := time.Now().Add(-r.lookback)
	posts, err := r.posts.RecentPostsByAuthors(ctx, followed, since, offset+limit+1)
	if err != nil {
		return nil, fmt.Errorf("scan recent posts: %w", err)
	}
	entries := toEntries(posts)
	page, hasMore := paginate(entries, offset, limit)
	return r.hydrate(ctx, page, hasMore, sourceDatabase)
}

func (r *TimelineReader) hydrate(ctx context.Context, page []cache.Entry, hasMore bool, source string) (*TimelineResult, error) {
	ids := make([]int64, 0, len(page))
	for _, e := range page {
		ids = append(ids, e.PostID)
	}
	byID, err := r.posts.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate posts: %w", err)
	}

	authorIDs := make([]int64, 0, len(byID))
	for _, post := range byID {
		authorIDs = append(authorIDs, post.AuthorID)
	}
	authorsByID, err := r.users.GetByIDs(ctx, authorIDs)
	if err != nil {
		return nil, fmt.Errorf("hydrate authors: %w", err)
	}

	views := make([]PostView, 0, len(page))
	for _, e := range page {
		post, ok := byID[e.PostID]
		if !ok {
			// Referenced by the cache or a pull scan but no longer present
			// in the store (deleted since fan-out); skip rather than fail
			// the whole page.
			continue
		}
		views = append(views, toView(post, authorsByID[post.AuthorID]))
	}

	return &TimelineResult{Posts: views, Source: source, HasMore: hasMore}, nil
}

func toView(p *models.Post, author *models.User) PostView {
	view := PostView{ID: p.ID, AuthorID: p.AuthorID, Content: p.Content, CreatedAt: p.CreatedAt}
	if author != nil {
		view.AuthorUsername = author.Username
	}
	return view
}

func toEntries(posts []*models.Post) []cache.Entry {
	entries := make([]cache.Entry, 0, len(posts))
	for _, p := range posts {
		entries = append(entries, cache.Entry{PostID: p.ID, Score: p.Score()})
	}
	return entries
}

// mergeDedup combines two already-descending entry lists, preferring the
// pushed copy of any post id present in both (it carries the fan-out
// worker's score, written at publish time rather than read time). Equal
// scores put the higher post id first and the lower one last, the same
// order Range reads from the cache.
func mergeDedup(pushed, pulled []cache.Entry) []cache.Entry {
	seen := make(map[int64]struct{}, len(pushed)+len(pulled))
	merged := make([]cache.Entry, 0, len(pushed)+len(pulled))
	for _, e := range pushed {
		if _, dup := seen[e.PostID]; dup {
			continue
		}
		seen[e.PostID] = struct{}{}
		merged = append(merged, e)
	}
	for _, e := range pulled {
		if _, dup := seen[e.PostID]; dup {
			continue
		}
		seen[e.PostID] = struct{}{}
		merged = append(merged, e)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score > merged[j].Score
		}
		return merged[i].PostID > merged[j].PostID
	})
	return merged
}

// paginate applies offset/limit to an already-sorted entry list and reports
// whether entries remain beyond the returned page.
func paginate(entries []cache.Entry, offset, limit int) ([]cache.Entry, bool) {
	if offset >= len(entries) {
		return nil, false
	}
	end := offset + limit
	hasMore := end < len(entries)
	if end > len(entries) {
		end = len(entries)
	}
	return entries[offset:end], hasMore
}
