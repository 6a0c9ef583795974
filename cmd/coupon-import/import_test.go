package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/martok-store/internal/domain/coupon"
)

type fakeStore struct {
	mu       sync.Mutex
	existing map[string]bool
	batches  [][]coupon.Coupon
	lookups  int
}

func (f *fakeStore) FindByCode(_ context.Context, code string) (*coupon.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.existing[code] {
		return &coupon.Coupon{Code: code}, nil
	}
	return nil, coupon.ErrNotFound
}

func (f *fakeStore) ListCodes(context.Context) ([]string, error) {
	var codes []string
	for c := range f.existing {
		codes = append(codes, c)
	}
	return codes, nil
}

func (f *fakeStore) Upsert(_ context.Context, coupons []coupon.Coupon) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]coupon.Coupon(nil), coupons...))
	return nil
}

func (f *fakeStore) written() map[string]coupon.Coupon {
	out := make(map[string]coupon.Coupon)
	for _, b := range f.batches {
		for _, c := range b {
			out[c.Code] = c
		}
	}
	return out
}

func writeGz(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coupons.jsonl.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

const window = `"startDate":"2026-01-01T00:00:00Z","endDate":"2026-12-31T00:00:00Z"`

func TestImporter_Import(t *testing.T) {
	a := writeGz(t,
		`{"code":"save10","type":"percentage","value":"10",`+window+`}`,
		`{"code":"FLAT100","type":"fixed","value":"100","minimumOrderAmount":"1000",`+window+`}`,
		`not json`,
		`{"code":"BAD","type":"bogo","value":"1",`+window+`}`,
	)
	b := writeGz(t,
		`{"code":"SAVE10","type":"percentage","value":"15",`+window+`}`,
		`{"code":"OLD","type":"fixed","value":"50",`+window+`}`,
		`{"code":"OFF","type":"fixed","value":"50","active":false,`+window+`}`,
		``,
	)
	store := &fakeStore{existing: map[string]bool{"OLD": true}}

	stats, err := newImporter(store, zap.NewNop(), importOptions{BatchSize: 2}).Import(context.Background(), []string{a, b})
	require.NoError(t, err)

	assert.Equal(t, importStats{Read: 7, Written: 3, Duplicates: 1, Existing: 1, Invalid: 2}, stats)

	got := store.written()
	require.Len(t, got, 3)
	assert.Contains(t, got, "SAVE10")
	assert.Contains(t, got, "FLAT100")
	assert.False(t, got["OFF"].Active)
	assert.True(t, got["FLAT100"].Active)
	for _, batch := range store.batches {
		assert.LessOrEqual(t, len(batch), 2)
	}
}

func TestImporter_Update(t *testing.T) {
	path := writeGz(t, `{"code":"OLD","type":"fixed","value":"75",`+window+`}`)
	store := &fakeStore{existing: map[string]bool{"OLD": true}}

	stats, err := newImporter(store, zap.NewNop(), importOptions{Update: true}).Import(context.Background(), []string{path})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Written)
	assert.Zero(t, store.lookups)
	assert.Equal(t, "75", store.written()["OLD"].Value.String())
}

func TestImporter_MissingFile(t *testing.T) {
	_, err := newImporter(&fakeStore{}, zap.NewNop(), importOptions{}).
		Import(context.Background(), []string{filepath.Join(t.TempDir(), "missing.gz")})
	require.Error(t, err)
}

func TestRecord_Validation(t *testing.T) {
	for _, tt := range []struct {
		name string
		rec  record
	}{
		{"EmptyCode", record{Type: "fixed"}},
		{"ZeroValue", record{Code: "X", Type: "fixed"}},
		{"Over100", record{Code: "X", Type: "percentage", Value: mustDecimal("120")}},
		{"NoWindow", record{Code: "X", Type: "fixed", Value: mustDecimal("5")}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.rec.toCoupon()
			require.Error(t, err)
		})
	}
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
