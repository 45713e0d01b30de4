package trends

import (
	"strings"
	"sync"
	"time"

	"github.com/agent-sterling-go/internal/clock"
	"github.com/patrickmn/go-cache"
)

type topicEntry struct {
	LastUsed time.Time
	Contents []string
}

// TopicHistory remembers when each topic was last posted about and what was
// said. Entries unused for purgeAfter are dropped.
type TopicHistory struct {
	mu          sync.Mutex
	entries     *cache.Cache
	clock       clock.Clock
	historySize int
	purgeAfter  time.Duration
}

// NewTopicHistory creates an empty history
func NewTopicHistory(clk clock.Clock, historySize int, purgeAfter time.Duration) *TopicHistory {
	if historySize < 1 {
		historySize = 5
	}
	if purgeAfter <= 0 {
		purgeAfter = 24 * time.Hour
	}
	return &TopicHistory{
		entries:     cache.New(purgeAfter, time.Hour),
		clock:       clk,
		historySize: historySize,
		purgeAfter:  purgeAfter,
	}
}

func normalize(tag string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
}

// MarkUsed records that content was posted about tag now
func (h *TopicHistory) MarkUsed(tag, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := normalize(tag)
	entry := topicEntry{}
	if val, found := h.entries.Get(key); found {
		entry = val.(topicEntry)
	}
	entry.LastUsed = h.clock.Now()
	contents := append(append([]string(nil), entry.Contents...), content)
	if len(contents) > h.historySize {
		contents = contents[len(contents)-h.historySize:]
	}
	entry.Contents = contents
	h.entries.SetDefault(key, entry)
}

// LastUsed returns when tag was last used
func (h *TopicHistory) LastUsed(tag string) (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	val, found := h.entries.Get(normalize(tag))
	if !found {
		return time.Time{}, false
	}
	return val.(topicEntry).LastUsed, true
}

// OnCooldown reports whether tag was used less than cooldown ago
func (h *TopicHistory) OnCooldown(tag string, cooldown time.Duration) bool {
	lastUsed, found := h.LastUsed(tag)
	if !found {
		return false
	}
	return h.clock.Now().Sub(lastUsed) < cooldown
}

// RecentContents returns the contents previously posted about tag, oldest first
func (h *TopicHistory) RecentContents(tag string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	val, found := h.entries.Get(normalize(tag))
	if !found {
		return nil
	}
	return append([]string(nil), val.(topicEntry).Contents...)
}

// Purge drops topics unused for longer than purgeAfter and returns how many
func (h *TopicHistory) Purge() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	purged := 0
	for key, item := range h.entries.Items() {
		entry := item.Object.(topicEntry)
		if now.Sub(entry.LastUsed) > h.purgeAfter {
			h.entries.Delete(key)
			purged++
		}
	}
	return purged
}

// Len returns the number of remembered topics
func (h *TopicHistory) Len() int {
	return h.entries.ItemCount()
}
