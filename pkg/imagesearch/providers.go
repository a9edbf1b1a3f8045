package imagesearch

import "context"

// The hosted image-search integrations are not yet available in this
// deployment. The providers keep the fan-out contract alive and report
// no result, so callers fall back to leaving the cover image unset.

type BoardGameGeekProvider struct{}

func (BoardGameGeekProvider) Name() string { return "boardgamegeek" }

func (BoardGameGeekProvider) Search(context.Context, string) (Result, error) {
	return Result{}, nil
}

type WebImageProvider struct{}

func (WebImageProvider) Name() string { return "webimage" }

func (WebImageProvider) Search(context.Context, string) (Result, error) {
	return Result{}, nil
}

// DefaultProviders is the provider set wired into the server.
func DefaultProviders() []Provider {
	return []Provider{BoardGameGeekProvider{}, WebImageProvider{}}
}
