package dedupe

import (
	"context"
	"errors"
	"sync"

	"github.com/agent-sterling-go/internal/middleware"
	"github.com/agent-sterling-go/internal/services/storage"
	"github.com/agent-sterling-go/pkg/textutil"
	"github.com/sirupsen/logrus"
)

// Category names a dedupe set
type Category string

const (
	Posts    Category = "posts"
	Mentions Category = "mentions"
	DMs      Category = "dms"
	Likes    Category = "likes"
)

const (
	DefaultCapacity     = 1000
	recentPostsSize     = 5
	similarityThreshold = 0.7
)

// Store tracks processed identifiers per category and recently posted text.
// Each identifier set keeps exactly the most recent DefaultCapacity entries.
type Store struct {
	mu      sync.Mutex
	sets    map[Category]*boundedSet
	recent  []string
	ledger  storage.Ledger
	logger  *logrus.Logger
	metrics *middleware.Metrics
}

// New creates an empty store backed by ledger
func New(ledger storage.Ledger, logger *logrus.Logger, metrics *middleware.Metrics) *Store {
	return NewWithCapacity(DefaultCapacity, ledger, logger, metrics)
}

func NewWithCapacity(capacity int, ledger storage.Ledger, logger *logrus.Logger, metrics *middleware.Metrics) *Store {
	sets := make(map[Category]*boundedSet)
	for _, category := range []Category{Posts, Mentions, DMs, Likes} {
		sets[category] = newBoundedSet(capacity)
	}
	return &Store{
		sets:    sets,
		ledger:  ledger,
		logger:  logger,
		metrics: metrics,
	}
}

// Load restores the DM-reply ledger and the recent-posts cache. Unreadable
// state is logged and the store starts empty.
func (s *Store) Load(ctx context.Context) {
	var replied []string
	if err := s.ledger.Load(ctx, storage.KeyRepliedDMs, &replied); err != nil {
		s.logLoadError(storage.KeyRepliedDMs, err)
		replied = nil
	}

	var recent []string
	if err := s.ledger.Load(ctx, storage.KeyRecentPosts, &recent); err != nil {
		s.logLoadError(storage.KeyRecentPosts, err)
		recent = nil
	}
	if len(recent) > recentPostsSize {
		recent = recent[len(recent)-recentPostsSize:]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range replied {
		s.sets[DMs].add(id)
	}
	s.recent = recent

	s.logger.WithFields(logrus.Fields{
		"replied_dms":  s.sets[DMs].len(),
		"recent_posts": len(s.recent),
	}).Info("Dedupe state loaded")
}

func (s *Store) logLoadError(key string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	s.logger.WithError(err).WithField("key", key).Warn("Failed to load ledger, starting empty")
}

// Seen reports whether id was already processed in category
func (s *Store) Seen(id string, category Category) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[category]
	if !ok {
		return false
	}
	seen := set.contains(id)
	if seen && s.metrics != nil {
		s.metrics.RecordDuplicate(string(category))
	}
	return seen
}

// Mark records id as processed. DM marks are persisted.
func (s *Store) Mark(ctx context.Context, id string, category Category) {
	s.mu.Lock()
	set, ok := s.sets[category]
	if !ok {
		s.mu.Unlock()
		return
	}
	set.add(id)
	var snapshot []string
	if category == DMs {
		snapshot = set.items()
	}
	s.mu.Unlock()

	if snapshot != nil {
		if err := s.ledger.Save(ctx, storage.KeyRepliedDMs, snapshot); err != nil {
			s.logger.WithError(err).Warn("Failed to persist DM ledger")
		}
	}
}

// Len returns the number of identifiers held for category
func (s *Store) Len(category Category) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.sets[category]; ok {
		return set.len()
	}
	return 0
}

// IsRecentContent reports whether text overlaps any of the last posted texts
// by more than the similarity threshold
func (s *Store) IsRecentContent(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, previous := range s.recent {
		if textutil.Jaccard(text, previous) > similarityThreshold {
			return true
		}
	}
	return false
}

// RecordPost appends text to the recent-posts cache and persists it
func (s *Store) RecordPost(ctx context.Context, text string) {
	s.mu.Lock()
	s.recent = append(s.recent, text)
	if len(s.recent) > recentPostsSize {
		s.recent = s.recent[len(s.recent)-recentPostsSize:]
	}
	snapshot := append([]string(nil), s.recent...)
	s.mu.Unlock()

	if err := s.ledger.Save(ctx, storage.KeyRecentPosts, snapshot); err != nil {
		s.logger.WithError(err).Warn("Failed to persist recent posts")
	}
}

// RecentPosts returns the cached post texts, oldest first
func (s *Store) RecentPosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recent...)
}

// Reset clears the in-memory post, mention and like sets. Persisted state
// (DM replies, recent posts) is kept.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, category := range []Category{Posts, Mentions, Likes} {
		s.sets[category] = newBoundedSet(s.sets[category].capacity())
	}
}
