package prefetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/barangay-portal/portal/internal/shared"
)

// warmConcurrency bounds the barangays warmed in parallel by WarmAll.
const warmConcurrency = 4

// Service builds dashboard summaries and keeps them cached.
type Service struct {
	source Source
	cache  *Cache
	logger *slog.Logger
	now    func() time.Time
	group  singleflight.Group
}

// NewService wires a Source with a Cache.
func NewService(source Source, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, cache: cache, logger: logger, now: time.Now}
}

// Dashboard returns the cached summary, computing it on a miss. Concurrent
// misses for the same barangay share one computation.
func (s *Service) Dashboard(ctx context.Context, barangayID int64) (Summary, error) {
	if barangayID <= 0 {
		return Summary{}, fmt.Errorf("%w: barangay id required", shared.ErrValidation)
	}
	key, err := s.cache.DashboardKey(ctx, barangayID)
	if err != nil {
		return Summary{}, err
	}
	var cached Summary
	hit, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		s.logger.Warn("prefetch cache read", slog.String("key", key), slog.Any("error", err))
	}
	if hit {
		return cached, nil
	}
	return s.build(ctx, key, barangayID)
}

// Warm recomputes and stores the summary of one barangay.
func (s *Service) Warm(ctx context.Context, barangayID int64) error {
	if barangayID <= 0 {
		return fmt.Errorf("%w: barangay id required", shared.ErrValidation)
	}
	key, err := s.cache.DashboardKey(ctx, barangayID)
	if err != nil {
		return err
	}
	_, err = s.build(ctx, key, barangayID)
	return err
}

// WarmAll warms the given barangays, or every approved barangay when ids is
// empty. It returns the number warmed and the joined failures.
func (s *Service) WarmAll(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		var err error
		ids, err = s.source.ApprovedBarangays(ctx)
		if err != nil {
			return 0, err
		}
	}

	var (
		mu     sync.Mutex
		warmed int
		errs   []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if err := s.Warm(gctx, id); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("barangay %d: %w", id, err))
				mu.Unlock()
				return nil
			}
			mu.Lock()
			warmed++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return warmed, errors.Join(errs...)
}

// Invalidate drops every cached summary.
func (s *Service) Invalidate(ctx context.Context) error {
	ver, err := s.cache.Bump(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("prefetch cache invalidated", slog.Int64("version", ver))
	return nil
}

func (s *Service) build(ctx context.Context, key string, barangayID int64) (Summary, error) {
	res := s.group.DoChan(strconv.FormatInt(barangayID, 10), func() (any, error) {
		summary, err := s.compute(ctx, barangayID)
		if err != nil {
			return Summary{}, err
		}
		if err := s.cache.Put(ctx, key, summary); err != nil {
			s.logger.Warn("prefetch cache write", slog.String("key", key), slog.Any("error", err))
		}
		return summary, nil
	})
	select {
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	case r := <-res:
		if r.Err != nil {
			return Summary{}, r.Err
		}
		return r.Val.(Summary), nil
	}
}

func (s *Service) compute(ctx context.Context, barangayID int64) (Summary, error) {
	asOf := s.now().UTC()
	counts := make([]int64, len(Metrics))
	g, gctx := errgroup.WithContext(ctx)
	for i, metric := range Metrics {
		g.Go(func() error {
			n, err := s.source.Count(gctx, metric, barangayID, asOf)
			if err != nil {
				return err
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	summary := Summary{BarangayID: barangayID, Counts: make(map[Metric]int64, len(Metrics)), GeneratedAt: asOf}
	for i, metric := range Metrics {
		summary.Counts[metric] = counts[i]
	}
	return summary, nil
}
