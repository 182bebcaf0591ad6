package tenant

import (
	"context"
	"testing"
	"time"

	"convopilot_backend/internal/conversation/domain"
	"convopilot_backend/platform/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type countingReader struct {
	settings      Settings
	keywords      []domain.TakeoverKeyword
	settingsCalls int
	keywordsCalls int
}

func (r *countingReader) GetByID(_ context.Context, _ uuid.UUID) (Tenant, error) {
	return Tenant{}, ErrNotFound
}

func (r *countingReader) GetByExternalPhoneID(_ context.Context, _ string) (Tenant, error) {
	return Tenant{}, ErrNotFound
}

func (r *countingReader) GetSettings(_ context.Context, _ uuid.UUID) (Settings, error) {
	r.settingsCalls++
	s := r.settings
	s.ApplyDefaults()
	return s, nil
}

func (r *countingReader) ListKeywords(_ context.Context, _ uuid.UUID) ([]domain.TakeoverKeyword, error) {
	r.keywordsCalls++
	return r.keywords, nil
}

func newCacheFixture(t *testing.T, reader *countingReader, seeds []domain.TakeoverKeyword) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCache(reader, rdb, time.Minute, seeds, logger.NewNop()), mr
}

func TestCacheSettingsServedFromRedisOnSecondRead(t *testing.T) {
	reader := &countingReader{settings: Settings{RecoveryTimeoutMinutes: 30}}
	cache, _ := newCacheFixture(t, reader, nil)
	id := uuid.New()

	first, err := cache.Settings(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := cache.Settings(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if reader.settingsCalls != 1 {
		t.Fatalf("second read must hit the cache, repo called %d times", reader.settingsCalls)
	}
	if first != second {
		t.Fatalf("cached settings diverged: %+v vs %+v", first, second)
	}
	if second.RecoveryTimeoutMinutes != 30 || second.MaxUnanswered != DefaultMaxUnanswered {
		t.Fatalf("expected defaults preserved through the cache, got %+v", second)
	}
}

func TestCacheExpiryForcesRepositoryRead(t *testing.T) {
	reader := &countingReader{}
	cache, mr := newCacheFixture(t, reader, nil)
	id := uuid.New()

	if _, err := cache.Settings(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := cache.Settings(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if reader.settingsCalls != 2 {
		t.Fatalf("expired entry must read through, repo called %d times", reader.settingsCalls)
	}
}

func TestCacheClearDropsBothEntries(t *testing.T) {
	reader := &countingReader{keywords: []domain.TakeoverKeyword{{Phrase: "asesor"}}}
	cache, _ := newCacheFixture(t, reader, nil)
	id := uuid.New()

	if _, err := cache.Settings(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cache.Keywords(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := cache.ClearCache(context.Background(), id); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	if _, err := cache.Settings(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := cache.Keywords(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reader.settingsCalls != 2 || reader.keywordsCalls != 2 {
		t.Fatalf("clear must force repository reads, got settings=%d keywords=%d",
			reader.settingsCalls, reader.keywordsCalls)
	}
}

func TestCacheKeywordsFallBackToSeeds(t *testing.T) {
	seeds := []domain.TakeoverKeyword{{
		Phrase:   "hablar con alguien",
		Source:   domain.SourceLead,
		Category: domain.CategoryTakeover,
	}}
	reader := &countingReader{}
	cache, _ := newCacheFixture(t, reader, seeds)

	keywords, err := cache.Keywords(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keywords) != 1 || keywords[0].Phrase != "hablar con alguien" {
		t.Fatalf("empty tenant list must fall back to seeds, got %+v", keywords)
	}
}

func TestCacheTenantKeywordsWinOverSeeds(t *testing.T) {
	seeds := []domain.TakeoverKeyword{{Phrase: "hablar con alguien"}}
	reader := &countingReader{keywords: []domain.TakeoverKeyword{{Phrase: "quiero un humano"}}}
	cache, _ := newCacheFixture(t, reader, seeds)

	keywords, err := cache.Keywords(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(keywords) != 1 || keywords[0].Phrase != "quiero un humano" {
		t.Fatalf("configured phrases must win over seeds, got %+v", keywords)
	}
}

func TestCacheDegradesWithoutRedis(t *testing.T) {
	reader := &countingReader{}
	cache := NewCache(reader, nil, time.Minute, nil, logger.NewNop())
	id := uuid.New()

	for i := 0; i < 2; i++ {
		if _, err := cache.Settings(context.Background(), id); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if reader.settingsCalls != 2 {
		t.Fatalf("nil redis must read through every time, got %d", reader.settingsCalls)
	}
	if err := cache.ClearCache(context.Background(), id); err != nil {
		t.Fatalf("clear without redis must be a no-op, got %v", err)
	}
}
