// Package imagesearch looks up cover art for a board game by title.
package imagesearch

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Result is a candidate cover image.
type Result struct {
	URL    string `json:"url"`
	Source string `json:"source"`
}

// Provider searches a single upstream for cover art. A provider that
// finds nothing returns (Result{}, nil).
type Provider interface {
	Name() string
	Search(ctx context.Context, title string) (Result, error)
}

// Searcher fans a title query out to all configured providers and
// returns the first hit. Provider errors are swallowed per provider so
// one broken upstream cannot mask another's result.
type Searcher struct {
	providers []Provider
}

func NewSearcher(providers ...Provider) *Searcher {
	return &Searcher{providers: providers}
}

// Search queries every provider concurrently. It returns false when no
// provider produced an image.
func (s *Searcher) Search(ctx context.Context, title string) (Result, bool) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		found Result
		ok    bool
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range s.providers {
		g.Go(func() error {
			res, err := p.Search(ctx, title)
			if err != nil || res.URL == "" {
				return nil
			}
			mu.Lock()
			if !ok {
				found, ok = res, true
				cancel()
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return found, ok
}
