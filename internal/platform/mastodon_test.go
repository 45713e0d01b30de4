package platform

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agent-sterling-go/internal/clock"
	"github.com/agent-sterling-go/internal/config"
	"github.com/agent-sterling-go/internal/middleware"
	"github.com/agent-sterling-go/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

const statusJSON = `{
	"id": "109",
	"content": "<p>Hello <a href=\"https://example.com\">https://example.com</a> robots and humans</p>",
	"created_at": "2024-05-01T10:00:00.000Z",
	"in_reply_to_id": null,
	"visibility": "public",
	"favourites_count": 4,
	"reblogs_count": 2,
	"replies_count": 1,
	"account": {"id": "7", "acct": "alice@example.social"},
	"tags": [{"name": "ai"}]
}`

func newTestServer(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		handler, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

// TestMastodonPostAndReply tests status creation
func TestMastodonPostAndReply(t *testing.T) {
	var bodies []map[string]interface{}
	server := newTestServer(t, map[string]http.HandlerFunc{
		"POST /api/v1/statuses": func(w http.ResponseWriter, r *http.Request) {
			assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))
			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			bodies = append(bodies, body)
			w.Write([]byte(statusJSON))
		},
	})
	client := NewMastodon(server.URL+"/", "token", time.Second, testLogger())

	record, err := client.Post(context.Background(), "hello", models.VisibilityUnlisted)
	require.NoError(t, err)
	assert.Equal(t, "109", record.ID)
	assert.Equal(t, "Hello robots and humans", record.Content)
	assert.Equal(t, "alice@example.social", record.AuthorHandle)
	assert.Equal(t, []string{"hello", "robots", "humans"}, record.Keywords)

	_, err = client.Reply(context.Background(), "55", "@alice hi", models.VisibilityDirect)
	require.NoError(t, err)

	require.Len(t, bodies, 2)
	assert.Equal(t, "unlisted", bodies[0]["visibility"])
	assert.Nil(t, bodies[0]["in_reply_to_id"])
	assert.Equal(t, "55", bodies[1]["in_reply_to_id"])
	assert.Equal(t, "direct", bodies[1]["visibility"])
}

// TestMastodonFetchMentions tests notification filtering
func TestMastodonFetchMentions(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/notifications": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "mention", r.URL.Query().Get("types[]"))
			assert.Equal(t, "20", r.URL.Query().Get("limit"))
			w.Write([]byte(`[
				{"id": "1", "type": "mention", "status": ` + statusJSON + `},
				{"id": "2", "type": "favourite", "status": ` + statusJSON + `},
				{"id": "3", "type": "mention", "status": null}
			]`))
		},
	})
	client := NewMastodon(server.URL, "token", time.Second, testLogger())

	mentions, err := client.FetchMentions(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, mentions, 1)
	assert.Equal(t, "109", mentions[0].ID)
	assert.Equal(t, "7", mentions[0].AuthorID)
	assert.Equal(t, 6, mentions[0].Engagement())
	assert.Equal(t, []string{"ai"}, mentions[0].Tags)
}

// TestMastodonTrendingTags tests volume aggregation
func TestMastodonTrendingTags(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/trends/tags": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[
				{"name": "golang", "history": [{"uses": "10"}, {"uses": "5"}]},
				{"name": "fediverse", "history": [{"uses": "x"}]}
			]`))
		},
	})
	client := NewMastodon(server.URL, "token", time.Second, testLogger())

	tags, err := client.FetchTrendingTags(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []models.TrendingTag{{Name: "golang", Volume: 15}, {Name: "fediverse", Volume: 0}}, tags)
}

// TestMastodonConversationsAndFavorite tests DM threads and favourites
func TestMastodonConversationsAndFavorite(t *testing.T) {
	favourited := ""
	server := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/conversations": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[{"id": "c1", "unread": true, "accounts": [{"id": "7", "acct": "alice"}], "last_status": ` + statusJSON + `}]`))
		},
		"POST /api/v1/statuses/109/favourite": func(w http.ResponseWriter, r *http.Request) {
			favourited = "109"
			w.Write([]byte(statusJSON))
		},
	})
	client := NewMastodon(server.URL, "token", time.Second, testLogger())

	conversations, err := client.FetchConversations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, conversations, 1)
	assert.True(t, conversations[0].Unread)
	assert.Equal(t, "alice", conversations[0].Accounts[0].Handle)
	require.NotNil(t, conversations[0].LastStatus)
	assert.Equal(t, "109", conversations[0].LastStatus.ID)

	require.NoError(t, client.Favorite(context.Background(), "109"))
	assert.Equal(t, "109", favourited)
}

// TestMastodonOwnPosts tests that own posts resolve the account first
func TestMastodonOwnPosts(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/accounts/verify_credentials": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"id": "99", "acct": "sterling"}`))
		},
		"GET /api/v1/accounts/99/statuses": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "true", r.URL.Query().Get("exclude_replies"))
			w.Write([]byte(`[` + statusJSON + `]`))
		},
	})
	client := NewMastodon(server.URL, "token", time.Second, testLogger())

	posts, err := client.FetchOwnPosts(context.Background(), 20)
	require.NoError(t, err)
	assert.Len(t, posts, 1)
}

// TestMastodonAPIError tests non-2xx responses
func TestMastodonAPIError(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/accounts/verify_credentials": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": "The access token is invalid"}`))
		},
	})
	client := NewMastodon(server.URL, "token", time.Second, testLogger())

	_, err := client.VerifyCredentials(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "invalid")
}

// TestPleroma tests the Pleroma variant
func TestPleroma(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/notifications": func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "mention", r.URL.Query().Get("include_types[]"))
			w.Write([]byte(`[]`))
		},
	})
	client := NewPleroma(server.URL, "token", time.Second, testLogger())

	assert.Equal(t, "pleroma", client.Name())
	_, err := client.FetchTrendingTags(context.Background(), 10)
	assert.ErrorIs(t, err, ErrUnsupported)

	mentions, err := client.FetchMentions(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, mentions)
}

// TestNew tests the platform factory
func TestNew(t *testing.T) {
	client, err := New(config.PlatformConfig{Type: "mastodon", InstanceURL: "https://m.social"}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "mastodon", client.Name())

	client, err = New(config.PlatformConfig{Type: "pleroma", InstanceURL: "https://p.social"}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "pleroma", client.Name())

	_, err = New(config.PlatformConfig{Type: "twitter"}, testLogger())
	assert.Error(t, err)
}

// TestRateLimitedClient tests that every call acquires from the limiter
func TestRateLimitedClient(t *testing.T) {
	server := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/notifications": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[]`))
		},
	})
	clk := clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	start := clk.Now()
	limiter := middleware.NewRateLimiter("platform", config.LimitConfig{RequestsPerMinute: 2}, clk, testLogger(), nil)
	client := WithRateLimit(NewMastodon(server.URL, "token", time.Second, testLogger()), limiter, middleware.NewMetrics())

	for i := 0; i < 3; i++ {
		_, err := client.FetchMentions(context.Background(), 5)
		require.NoError(t, err)
	}

	assert.Equal(t, start.Add(time.Minute), clk.Now())
}
