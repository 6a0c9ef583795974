package settings

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockRepo struct {
	mu        sync.Mutex
	stored    *Settings
	loadErr   error
	initCalls atomic.Int32
}

func (m *mockRepo) Load(_ context.Context) (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.stored == nil {
		return nil, ErrNotFound
	}
	s := *m.stored
	return &s, nil
}

func (m *mockRepo) Init(_ context.Context, s Settings) (*Settings, error) {
	m.initCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stored == nil {
		m.stored = &s
	}
	out := *m.stored
	return &out, nil
}

func TestRepoProvider_CreatesDefaults(t *testing.T) {
	repo := &mockRepo{}
	p := NewRepoProvider(repo, Defaults())

	s, err := p.Get(context.Background())
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(500).Equal(s.Shipping.FreeShippingThreshold))
	assert.True(t, decimal.NewFromInt(50).Equal(s.Shipping.StandardShippingFee))
	assert.True(t, s.Payment.Gateway.Enabled)
	assert.False(t, s.Tax.Enabled)
	assert.EqualValues(t, 1, repo.initCalls.Load())

	// Second call reads the stored document.
	_, err = p.Get(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, repo.initCalls.Load())
}

func TestRepoProvider_ExistingSettings(t *testing.T) {
	stored := Defaults()
	stored.Tax = Tax{Enabled: true, Rate: decimal.NewFromInt(18)}
	repo := &mockRepo{stored: &stored}
	p := NewRepoProvider(repo, Defaults())

	s, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Tax.Enabled)
	assert.True(t, decimal.NewFromInt(18).Equal(s.Tax.Rate))
	assert.EqualValues(t, 0, repo.initCalls.Load())
}

func TestRepoProvider_LoadError(t *testing.T) {
	repo := &mockRepo{loadErr: errors.New("db down")}
	p := NewRepoProvider(repo, Defaults())

	_, err := p.Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load settings")
}

func TestRepoProvider_ConcurrentFirstAccess(t *testing.T) {
	repo := &mockRepo{}
	p := NewRepoProvider(repo, Defaults())

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Get(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.NotNil(t, repo.stored)
}
