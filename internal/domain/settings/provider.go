package settings

import (
	"context"

	"github.com/go-faster/errors"
	"golang.org/x/sync/singleflight"
)

var _ Provider = (*RepoProvider)(nil)

// RepoProvider implements Provider on top of a Repository, creating the
// singleton from defaults on first access.
type RepoProvider struct {
	repo     Repository
	defaults Settings
	group    singleflight.Group
}

// NewRepoProvider creates a RepoProvider. defaults seeds the document when it
// does not exist yet.
func NewRepoProvider(repo Repository, defaults Settings) *RepoProvider {
	return &RepoProvider{repo: repo, defaults: defaults}
}

// Get loads the settings. Concurrent callers share a single load, so a burst
// of requests against an empty store creates the document once.
func (p *RepoProvider) Get(ctx context.Context) (*Settings, error) {
	v, err, _ := p.group.Do("settings", func() (any, error) {
		s, err := p.repo.Load(ctx)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, errors.Wrap(err, "load settings")
		}

		s, err = p.repo.Init(ctx, p.defaults)
		if err != nil {
			return nil, errors.Wrap(err, "init settings")
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}

	// Hand out a copy: the shared value must not be mutated by one request.
	s := *v.(*Settings)
	return &s, nil
}
