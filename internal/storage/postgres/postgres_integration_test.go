//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/martok-store/internal/domain/auth"
	"github.com/xenking/martok-store/internal/domain/coupon"
	"github.com/xenking/martok-store/internal/domain/order"
	"github.com/xenking/martok-store/internal/domain/product"
	"github.com/xenking/martok-store/internal/domain/settings"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "martok",
				"POSTGRES_PASSWORD": "martok",
				"POSTGRES_DB":       "martok",
			},
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort("5432/tcp"),
			),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	pool, err := NewPool(ctx, fmt.Sprintf("postgres://martok:martok@%s:%s/martok?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, RunMigrations(ctx, pool))
	return pool
}

func TestPostgres(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()

	products := NewProductRepository(pool)
	require.NoError(t, products.Upsert(ctx, []product.Product{
		{ID: "w1", Name: "Field Watch", Price: decimal.NewFromInt(500), Stock: 10, Active: true,
			Discount: product.Discount{Active: true, Percentage: decimal.NewFromInt(10)}},
		{ID: "s1", Name: "Strap", Price: decimal.NewFromInt(100), Stock: 3, Active: true},
	}))

	t.Run("ProductRoundTrip", func(t *testing.T) {
		got, err := products.GetByIDs(ctx, []string{"w1", "missing"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].Price.Equal(decimal.NewFromInt(500)))
		assert.True(t, got[0].DiscountedPrice().Equal(decimal.NewFromInt(450)))
	})

	t.Run("AdjustStockNeverNegative", func(t *testing.T) {
		var (
			wg sync.WaitGroup
			ok atomic.Int32
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := products.AdjustStock(ctx, "s1", -1, 1)
				if err == nil {
					ok.Add(1)
					return
				}
				assert.ErrorIs(t, err, product.ErrInsufficientStock)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(3), ok.Load())

		got, err := products.GetByIDs(ctx, []string{"s1"})
		require.NoError(t, err)
		assert.Equal(t, 0, got[0].Stock)
		assert.Equal(t, 3, got[0].SoldCount)

		require.ErrorIs(t, products.AdjustStock(ctx, "nope", 1, 0), product.ErrNotFound)
	})

	t.Run("CouponLimits", func(t *testing.T) {
		coupons := NewCouponRepository(pool)
		now := time.Now()
		require.NoError(t, coupons.Upsert(ctx, []coupon.Coupon{{
			Code:           "save10",
			Type:           coupon.DiscountPercentage,
			Value:          decimal.NewFromInt(10),
			StartDate:      now.Add(-time.Hour),
			EndDate:        now.Add(time.Hour),
			UsageLimit:     3,
			UserUsageLimit: 2,
			Active:         true,
		}}))

		c, err := coupons.FindByCode(ctx, "Save10")
		require.NoError(t, err)
		assert.Equal(t, "SAVE10", c.Code)

		require.NoError(t, coupons.RecordUsage(ctx, "SAVE10", "u1", now))
		require.NoError(t, coupons.RecordUsage(ctx, "SAVE10", "u1", now))
		require.ErrorIs(t, coupons.RecordUsage(ctx, "SAVE10", "u1", now), coupon.ErrUserLimitReached)
		require.NoError(t, coupons.RecordUsage(ctx, "SAVE10", "u2", now))
		require.ErrorIs(t, coupons.RecordUsage(ctx, "SAVE10", "u3", now), coupon.ErrUsageLimitReached)
		require.ErrorIs(t, coupons.RecordUsage(ctx, "NOPE", "u1", now), coupon.ErrNotFound)

		c, err = coupons.FindByCode(ctx, "SAVE10")
		require.NoError(t, err)
		// The rejected per-user attempt rolled back its global increment.
		assert.Equal(t, 3, c.UsedCount)
		assert.Equal(t, 2, c.UsedBy("u1"))
		assert.Equal(t, 1, c.UsedBy("u2"))

		codes, err := coupons.ListCodes(ctx)
		require.NoError(t, err)
		assert.Contains(t, codes, "SAVE10")

		_, err = coupons.FindByCode(ctx, "MISSING")
		require.ErrorIs(t, err, coupon.ErrNotFound)
	})

	t.Run("OrderGuardedUpdate", func(t *testing.T) {
		orders := NewOrderRepository(pool)
		now := time.Now().UTC().Truncate(time.Millisecond)
		o := &order.Order{
			ID:            uuid.New().String(),
			Number:        "ORD-000001-ABCDEF",
			Customer:      order.Customer{ID: "u1", Name: "Asha"},
			Items:         []order.LineItem{{ProductID: "w1", Name: "Field Watch", Price: decimal.NewFromInt(500), DiscountedPrice: decimal.NewFromInt(450), Quantity: 1, Total: decimal.NewFromInt(450)}},
			PaymentMethod: order.MethodGateway,
			PaymentStatus: order.PaymentPending,
			Status:        order.StatusPending,
			History:       []order.StatusChange{{Status: order.StatusPending, At: now, Note: "order created"}},
			Subtotal:      decimal.NewFromInt(450),
			ShippingFee:   decimal.NewFromInt(50),
			Total:         decimal.NewFromInt(500),
			Payment:       order.PaymentDetails{IntentID: "intent_1"},
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		require.NoError(t, orders.Create(ctx, o))

		got, err := orders.GetByIntentID(ctx, "intent_1")
		require.NoError(t, err)
		assert.Equal(t, o.ID, got.ID)
		assert.True(t, got.Total.Equal(decimal.NewFromInt(500)))
		require.Len(t, got.History, 1)

		confirmed, completed := order.StatusConfirmed, order.PaymentCompleted
		settle := order.Patch{
			Status:        &confirmed,
			PaymentStatus: &completed,
			AppendHistory: []order.StatusChange{{Status: confirmed, At: now, Note: "payment verified"}},
			Payment:       &order.PaymentDetails{PaymentID: "pay_1"},
		}
		guard := order.Guard{Status: order.StatusPending, PaymentStatus: order.PaymentPending}

		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := orders.Update(ctx, o.ID, guard, settle)
				if err == nil {
					wins.Add(1)
					return
				}
				assert.ErrorIs(t, err, order.ErrStaleState)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())

		got, err = orders.GetByID(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusConfirmed, got.Status)
		assert.Equal(t, "intent_1", got.Payment.IntentID)
		assert.Equal(t, "pay_1", got.Payment.PaymentID)
		assert.Len(t, got.History, 2)

		first := now.Add(time.Hour)
		second := now.Add(2 * time.Hour)
		_, err = orders.Update(ctx, o.ID, order.Guard{}, order.Patch{DeliveredAt: &first})
		require.NoError(t, err)
		got, err = orders.Update(ctx, o.ID, order.Guard{}, order.Patch{DeliveredAt: &second})
		require.NoError(t, err)
		require.NotNil(t, got.DeliveredAt)
		assert.True(t, got.DeliveredAt.Equal(first))

		flagged := true
		note := "coupon: usage limit reached"
		_, err = orders.Update(ctx, o.ID, order.Guard{}, order.Patch{NeedsReconciliation: &flagged, ReconciliationNote: &note})
		require.NoError(t, err)
		list, err := orders.ListFlagged(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, note, list[0].ReconciliationNote)

		_, err = orders.Update(ctx, "missing", order.Guard{}, order.Patch{})
		require.ErrorIs(t, err, order.ErrNotFound)
		_, err = orders.GetByID(ctx, "missing")
		require.ErrorIs(t, err, order.ErrNotFound)
	})

	t.Run("ExpiredPending", func(t *testing.T) {
		orders := NewOrderRepository(pool)
		old := time.Now().Add(-time.Hour)
		o := &order.Order{
			ID:            uuid.New().String(),
			Number:        "ORD-000002-ABCDEF",
			Customer:      order.Customer{ID: "u2"},
			PaymentMethod: order.MethodGateway,
			PaymentStatus: order.PaymentPending,
			Status:        order.StatusPending,
			Subtotal:      decimal.NewFromInt(100),
			Total:         decimal.NewFromInt(150),
			CreatedAt:     old,
			UpdatedAt:     old,
		}
		require.NoError(t, orders.Create(ctx, o))

		list, err := orders.ListExpiredPending(ctx, order.MethodGateway, time.Now().Add(-30*time.Minute))
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, o.ID, list[0].ID)

		list, err = orders.ListExpiredPending(ctx, order.MethodCOD, time.Now())
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("SettingsInitOnce", func(t *testing.T) {
		repo := NewSettingsRepository(pool)
		_, err := repo.Load(ctx)
		require.ErrorIs(t, err, settings.ErrNotFound)

		first := settings.Defaults()
		first.Payment.Chat.Number = "+91 98765 43210"
		got, err := repo.Init(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, "+91 98765 43210", got.Payment.Chat.Number)

		got, err = repo.Init(ctx, settings.Defaults())
		require.NoError(t, err)
		assert.Equal(t, "+91 98765 43210", got.Payment.Chat.Number)
		assert.True(t, got.Shipping.FreeShippingThreshold.Equal(decimal.NewFromInt(500)))
	})

	t.Run("APIKeys", func(t *testing.T) {
		keys := NewAPIKeyRepository(pool)
		hash := auth.HashKey([]byte("pepper"), "secret")
		require.NoError(t, keys.Upsert(ctx, auth.APIKeyInfo{
			ID: "k1", KeyHash: hash, Name: "Asha", Scopes: []string{auth.ScopeAdmin}, CustomerID: "u1",
		}))
		info, err := keys.FindByHash(ctx, hash)
		require.NoError(t, err)
		assert.Equal(t, "u1", info.CustomerID)
		assert.True(t, info.HasScope(auth.ScopeAdmin))

		_, err = keys.FindByHash(ctx, "unknown")
		require.ErrorIs(t, err, auth.ErrNotFound)
	})
}
