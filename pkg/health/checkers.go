package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// Pinger is implemented by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck checks that a database accepts connections.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return errors.Wrap(err, "ping")
		}
		return nil
	}
}

// RedisCheck checks that the notification stream server responds.
func RedisCheck(rdb redis.Cmdable) CheckFunc {
	return func(ctx context.Context) error {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "redis ping")
		}
		return nil
	}
}

// BreakerCheck fails while a circuit breaker is open. Register it as
// Advisory: offline payment methods keep working without the gateway.
func BreakerCheck(state func() gobreaker.State) CheckFunc {
	return func(context.Context) error {
		if s := state(); s == gobreaker.StateOpen {
			return errors.Errorf("circuit breaker %s", s)
		}
		return nil
	}
}

// GoroutineCountCheck fails when the process leaks goroutines past threshold.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}
