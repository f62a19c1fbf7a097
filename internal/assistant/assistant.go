// Package assistant orchestrates one chat turn: normalize the message,
// classify it, fetch the user's prepared dataset through the cache, run
// the query, and format the reply. It owns no business logic of its own.
package assistant

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"

	"github.com/finchat-kernel/internal/answer"
	"github.com/finchat-kernel/internal/cache"
	"github.com/finchat-kernel/internal/intent"
	"github.com/finchat-kernel/internal/query"
	"github.com/finchat-kernel/internal/records"
	"github.com/finchat-kernel/internal/textnorm"
)

const (
	answerCacheCounters = 10_000
	answerCacheMaxCost  = 4_096
	answerCacheTTL      = time.Minute
)

// Service answers financial chat queries for authenticated users.
type Service struct {
	classifier *intent.Classifier
	cache      *cache.Manager
	source     records.Source
	formatter  *answer.Formatter
	logger     *zap.Logger

	// answers memoizes formatted replies keyed by (user, cache
	// generation, intent); invalidation bumps the generation, so stale
	// replies are unreachable and simply age out. answerTTL is capped
	// at the dataset TTL: the generation moves only on explicit
	// invalidation, so a longer memo TTL would let replies outlive a
	// TTL-expired dataset.
	answers   *ristretto.Cache[string, string]
	answerTTL time.Duration
}

// New wires the assistant. The source is the read interface onto the
// persistent record store; the cache manager owns freshness.
func New(classifier *intent.Classifier, cacheManager *cache.Manager, source records.Source, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	answers, err := ristretto.NewCache(&ristretto.Config[string, string]{
		NumCounters: answerCacheCounters,
		MaxCost:     answerCacheMaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating answer cache: %w", err)
	}
	answerTTL := answerCacheTTL
	if cacheManager.TTL() < answerTTL {
		answerTTL = cacheManager.TTL()
	}
	return &Service{
		classifier: classifier,
		cache:      cacheManager,
		source:     source,
		formatter:  answer.NewFormatter(),
		logger:     logger.Named("assistant"),
		answers:    answers,
		answerTTL:  answerTTL,
	}, nil
}

// HandleQuery runs one chat turn. Unrecognized input and empty data both
// come back as normal text replies; only a data-load failure returns an
// error, untouched, for the transport layer to map.
func (s *Service) HandleQuery(ctx context.Context, userID, rawMessage string) (string, error) {
	folded, trimmed := textnorm.Normalize(rawMessage)
	in := s.classifier.Classify(trimmed, folded)

	s.logger.Debug("classified query",
		zap.String("user", userID),
		zap.String("intent", string(in)))

	if in == intent.Unrecognized {
		return answer.Unrecognized, nil
	}

	memoKey := userID + "|" + strconv.FormatUint(s.cache.Generation(userID), 10) + "|" + string(in)
	if text, ok := s.answers.Get(memoKey); ok {
		return text, nil
	}

	ds, err := s.cache.GetOrBuild(ctx, userID, s.buildDataset)
	if err != nil {
		return "", err
	}

	text := s.formatter.Format(in, query.Execute(in, ds))
	s.answers.SetWithTTL(memoKey, text, 1, s.answerTTL)
	return text, nil
}

// Invalidate drops the user's cached dataset. The record-mutation path
// calls this synchronously after every create/update/delete.
func (s *Service) Invalidate(userID string) {
	s.cache.Invalidate(userID)
}

// ClearAll drops every cached dataset. Operator/debug surface only.
func (s *Service) ClearAll() {
	s.cache.Clear()
}

// CacheStats exposes the cache counters for the stats endpoint.
func (s *Service) CacheStats() map[string]interface{} {
	return s.cache.Stats()
}

func (s *Service) buildDataset(ctx context.Context, userID string) (*records.Dataset, error) {
	set, err := s.source.LoadRecords(ctx, userID)
	if err != nil {
		return nil, err
	}
	return records.BuildDataset(userID, set), nil
}
