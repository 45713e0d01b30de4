// Package platformtest provides an in-memory platform client for tests
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/agent-sterling-go/internal/models"
	"github.com/agent-sterling-go/internal/platform"
)

// Call names used by CallCount and SetError
const (
	CallPost                 = "Post"
	CallReply                = "Reply"
	CallFetchMentions        = "FetchMentions"
	CallFetchHashtagTimeline = "FetchHashtagTimeline"
	CallFetchTrendingTags    = "FetchTrendingTags"
	CallFavorite             = "Favorite"
	CallFetchConversations   = "FetchConversations"
	CallFetchOwnPosts        = "FetchOwnPosts"
	CallVerifyCredentials    = "VerifyCredentials"
)

// PostCall records a Post or Reply
type PostCall struct {
	InReplyTo  string
	Text       string
	Visibility models.Visibility
}

// Fake is a platform.Client that serves canned data and records every call
type Fake struct {
	mu            sync.Mutex
	account       models.Account
	mentions      []models.RawPost
	timelines     map[string][]models.RawPost
	trending      []models.TrendingTag
	conversations []models.RawConversation
	ownPosts      []models.RawPost
	errs          map[string]error
	calls         map[string]int
	posts         []PostCall
	favorites     []string
	nextID        int
}

var _ platform.Client = (*Fake)(nil)

// NewFake returns a fake authenticated as account
func NewFake(account models.Account) *Fake {
	return &Fake{
		account:   account,
		timelines: make(map[string][]models.RawPost),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (f *Fake) SetMentions(posts ...models.RawPost) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mentions = posts
}

func (f *Fake) SetTimeline(tag string, posts ...models.RawPost) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timelines[tag] = posts
}

func (f *Fake) SetTrending(tags ...models.TrendingTag) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trending = tags
}

func (f *Fake) SetConversations(conversations ...models.RawConversation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations = conversations
}

func (f *Fake) SetOwnPosts(posts ...models.RawPost) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ownPosts = posts
}

// SetError makes every subsequent call named call fail with err; nil clears it
func (f *Fake) SetError(call string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, call)
		return
	}
	f.errs[call] = err
}

// CallCount returns how many times call was made
func (f *Fake) CallCount(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[call]
}

// TotalCalls returns the number of calls across all methods
func (f *Fake) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// Posts returns the top-level posts published so far
func (f *Fake) Posts() []PostCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PostCall
	for _, p := range f.posts {
		if p.InReplyTo == "" {
			out = append(out, p)
		}
	}
	return out
}

// Replies returns the replies published so far
func (f *Fake) Replies() []PostCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []PostCall
	for _, p := range f.posts {
		if p.InReplyTo != "" {
			out = append(out, p)
		}
	}
	return out
}

// Favorites returns the favourited post ids
func (f *Fake) Favorites() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.favorites...)
}

func (f *Fake) begin(call string) error {
	f.calls[call]++
	return f.errs[call]
}

func (f *Fake) Name() string {
	return "fake"
}

func (f *Fake) Post(ctx context.Context, text string, visibility models.Visibility) (*models.PostRecord, error) {
	return f.publish(CallPost, "", text, visibility)
}

func (f *Fake) Reply(ctx context.Context, postID, text string, visibility models.Visibility) (*models.PostRecord, error) {
	return f.publish(CallReply, postID, text, visibility)
}

func (f *Fake) publish(call, inReplyTo, text string, visibility models.Visibility) (*models.PostRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(call); err != nil {
		return nil, err
	}
	f.nextID++
	f.posts = append(f.posts, PostCall{InReplyTo: inReplyTo, Text: text, Visibility: visibility})
	record := platform.Format(models.RawPost{
		ID:           fmt.Sprintf("own-%d", f.nextID),
		Content:      text,
		AuthorID:     f.account.ID,
		AuthorHandle: f.account.Handle,
		InReplyToID:  inReplyTo,
		Visibility:   visibility,
	})
	return &record, nil
}

func (f *Fake) FetchMentions(ctx context.Context, limit int) ([]models.RawPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(CallFetchMentions); err != nil {
		return nil, err
	}
	return limitPosts(f.mentions, limit), nil
}

func (f *Fake) FetchHashtagTimeline(ctx context.Context, tag string, limit int) ([]models.RawPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(CallFetchHashtagTimeline); err != nil {
		return nil, err
	}
	return limitPosts(f.timelines[tag], limit), nil
}

func (f *Fake) FetchTrendingTags(ctx context.Context, limit int) ([]models.TrendingTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(CallFetchTrendingTags); err != nil {
		return nil, err
	}
	tags := append([]models.TrendingTag(nil), f.trending...)
	if limit > 0 && len(tags) > limit {
		tags = tags[:limit]
	}
	return tags, nil
}

func (f *Fake) Favorite(ctx context.Context, postID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(CallFavorite); err != nil {
		return err
	}
	f.favorites = append(f.favorites, postID)
	return nil
}

func (f *Fake) FetchConversations(ctx context.Context, limit int) ([]models.RawConversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(CallFetchConversations); err != nil {
		return nil, err
	}
	conversations := append([]models.RawConversation(nil), f.conversations...)
	if limit > 0 && len(conversations) > limit {
		conversations = conversations[:limit]
	}
	return conversations, nil
}

func (f *Fake) FetchOwnPosts(ctx context.Context, limit int) ([]models.RawPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(CallFetchOwnPosts); err != nil {
		return nil, err
	}
	return limitPosts(f.ownPosts, limit), nil
}

func (f *Fake) VerifyCredentials(ctx context.Context) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(CallVerifyCredentials); err != nil {
		return nil, err
	}
	account := f.account
	return &account, nil
}

func limitPosts(posts []models.RawPost, limit int) []models.RawPost {
	out := append([]models.RawPost(nil), posts...)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
