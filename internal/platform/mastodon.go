package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agent-sterling-go/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Mastodon implements Client over the Mastodon REST API
type Mastodon struct {
	name          string
	baseURL       string
	token         string
	mentionFilter string
	httpClient    *http.Client
	logger        *logrus.Logger

	mu      sync.Mutex
	account *models.Account
}

// NewMastodon creates a Mastodon client for instanceURL
func NewMastodon(instanceURL, token string, timeout time.Duration, logger *logrus.Logger) *Mastodon {
	return &Mastodon{
		name:          "mastodon",
		baseURL:       strings.TrimSuffix(instanceURL, "/"),
		token:         token,
		mentionFilter: "types[]",
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type apiAccount struct {
	ID   string `json:"id"`
	Acct string `json:"acct"`
}

type apiTag struct {
	Name    string `json:"name"`
	History []struct {
		Uses string `json:"uses"`
	} `json:"history"`
}

type apiStatus struct {
	ID              string     `json:"id"`
	Content         string     `json:"content"`
	CreatedAt       time.Time  `json:"created_at"`
	InReplyToID     *string    `json:"in_reply_to_id"`
	Visibility      string     `json:"visibility"`
	FavouritesCount int        `json:"favourites_count"`
	ReblogsCount    int        `json:"reblogs_count"`
	RepliesCount    int        `json:"replies_count"`
	Account         apiAccount `json:"account"`
	Tags            []apiTag   `json:"tags"`
}

type apiNotification struct {
	ID     string     `json:"id"`
	Type   string     `json:"type"`
	Status *apiStatus `json:"status"`
}

type apiConversation struct {
	ID         string       `json:"id"`
	Unread     bool         `json:"unread"`
	Accounts   []apiAccount `json:"accounts"`
	LastStatus *apiStatus   `json:"last_status"`
}

func (s apiStatus) toRaw() models.RawPost {
	raw := models.RawPost{
		ID:           s.ID,
		Content:      s.Content,
		AuthorID:     s.Account.ID,
		AuthorHandle: s.Account.Acct,
		CreatedAt:    s.CreatedAt,
		Visibility:   models.Visibility(s.Visibility),
		Favourites:   s.FavouritesCount,
		Reblogs:      s.ReblogsCount,
		Replies:      s.RepliesCount,
	}
	if s.InReplyToID != nil {
		raw.InReplyToID = *s.InReplyToID
	}
	for _, tag := range s.Tags {
		raw.Tags = append(raw.Tags, tag.Name)
	}
	return raw
}

func toRawPosts(statuses []apiStatus) []models.RawPost {
	posts := make([]models.RawPost, 0, len(statuses))
	for _, s := range statuses {
		posts = append(posts, s.toRaw())
	}
	return posts
}

func (m *Mastodon) Name() string {
	return m.name
}

// Post publishes a new status
func (m *Mastodon) Post(ctx context.Context, text string, visibility models.Visibility) (*models.PostRecord, error) {
	return m.createStatus(ctx, map[string]interface{}{
		"status":     text,
		"visibility": string(visibility),
	})
}

// Reply publishes a status in reply to postID
func (m *Mastodon) Reply(ctx context.Context, postID, text string, visibility models.Visibility) (*models.PostRecord, error) {
	return m.createStatus(ctx, map[string]interface{}{
		"status":         text,
		"in_reply_to_id": postID,
		"visibility":     string(visibility),
	})
}

func (m *Mastodon) createStatus(ctx context.Context, body map[string]interface{}) (*models.PostRecord, error) {
	var status apiStatus
	if err := m.do(ctx, http.MethodPost, "/api/v1/statuses", nil, body, &status); err != nil {
		return nil, err
	}
	record := Format(status.toRaw())
	return &record, nil
}

// FetchMentions returns the statuses of recent mention notifications
func (m *Mastodon) FetchMentions(ctx context.Context, limit int) ([]models.RawPost, error) {
	query := url.Values{}
	query.Set(m.mentionFilter, "mention")
	query.Set("limit", strconv.Itoa(limit))

	var notifications []apiNotification
	if err := m.do(ctx, http.MethodGet, "/api/v1/notifications", query, nil, &notifications); err != nil {
		return nil, err
	}

	posts := make([]models.RawPost, 0, len(notifications))
	for _, n := range notifications {
		if n.Type != "mention" || n.Status == nil {
			continue
		}
		posts = append(posts, n.Status.toRaw())
	}
	return posts, nil
}

// FetchHashtagTimeline returns recent public statuses tagged with tag
func (m *Mastodon) FetchHashtagTimeline(ctx context.Context, tag string, limit int) ([]models.RawPost, error) {
	tag = strings.TrimPrefix(strings.TrimSpace(tag), "#")
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	var statuses []apiStatus
	if err := m.do(ctx, http.MethodGet, "/api/v1/timelines/tag/"+url.PathEscape(tag), query, nil, &statuses); err != nil {
		return nil, err
	}
	return toRawPosts(statuses), nil
}

// FetchTrendingTags returns the server's trending hashtags with their recent use counts
func (m *Mastodon) FetchTrendingTags(ctx context.Context, limit int) ([]models.TrendingTag, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	var tags []apiTag
	if err := m.do(ctx, http.MethodGet, "/api/v1/trends/tags", query, nil, &tags); err != nil {
		return nil, err
	}

	trending := make([]models.TrendingTag, 0, len(tags))
	for _, tag := range tags {
		volume := 0
		for _, day := range tag.History {
			uses, err := strconv.Atoi(day.Uses)
			if err == nil {
				volume += uses
			}
		}
		trending = append(trending, models.TrendingTag{Name: tag.Name, Volume: volume})
	}
	return trending, nil
}

// Favorite favourites postID
func (m *Mastodon) Favorite(ctx context.Context, postID string) error {
	return m.do(ctx, http.MethodPost, "/api/v1/statuses/"+url.PathEscape(postID)+"/favourite", nil, nil, nil)
}

// FetchConversations returns recent direct-message threads
func (m *Mastodon) FetchConversations(ctx context.Context, limit int) ([]models.RawConversation, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	var conversations []apiConversation
	if err := m.do(ctx, http.MethodGet, "/api/v1/conversations", query, nil, &conversations); err != nil {
		return nil, err
	}

	result := make([]models.RawConversation, 0, len(conversations))
	for _, c := range conversations {
		conv := models.RawConversation{ID: c.ID, Unread: c.Unread}
		for _, a := range c.Accounts {
			conv.Accounts = append(conv.Accounts, models.Account{ID: a.ID, Handle: a.Acct})
		}
		if c.LastStatus != nil {
			last := c.LastStatus.toRaw()
			conv.LastStatus = &last
		}
		result = append(result, conv)
	}
	return result, nil
}

// FetchOwnPosts returns the authenticated account's recent original statuses
func (m *Mastodon) FetchOwnPosts(ctx context.Context, limit int) ([]models.RawPost, error) {
	account, err := m.ownAccount(ctx)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("exclude_replies", "true")
	query.Set("exclude_reblogs", "true")

	var statuses []apiStatus
	if err := m.do(ctx, http.MethodGet, "/api/v1/accounts/"+url.PathEscape(account.ID)+"/statuses", query, nil, &statuses); err != nil {
		return nil, err
	}
	return toRawPosts(statuses), nil
}

// VerifyCredentials returns the authenticated account
func (m *Mastodon) VerifyCredentials(ctx context.Context) (*models.Account, error) {
	var account apiAccount
	if err := m.do(ctx, http.MethodGet, "/api/v1/accounts/verify_credentials", nil, nil, &account); err != nil {
		return nil, err
	}

	own := &models.Account{ID: account.ID, Handle: account.Acct}
	m.mu.Lock()
	m.account = own
	m.mu.Unlock()
	return own, nil
}

func (m *Mastodon) ownAccount(ctx context.Context) (*models.Account, error) {
	m.mu.Lock()
	account := m.account
	m.mu.Unlock()
	if account != nil {
		return account, nil
	}
	return m.VerifyCredentials(ctx)
}

func (m *Mastodon) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	endpoint := m.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodPost && path == "/api/v1/statuses" {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	m.logger.WithFields(logrus.Fields{
		"platform": m.name,
		"method":   method,
		"path":     path,
	}).Debug("Sending platform request")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
