package order

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// NewNumber returns a human-shareable order number of the form
// ORD-<last 6 digits of epoch millis>-<6 random base36 chars>.
func NewNumber(now time.Time) string {
	millis := now.UnixMilli() % 1_000_000

	var suffix strings.Builder
	limit := big.NewInt(int64(len(base36)))
	for range 6 {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic(fmt.Sprintf("crypto/rand: %v", err))
		}
		suffix.WriteByte(base36[n.Int64()])
	}
	return fmt.Sprintf("ORD-%06d-%s", millis, suffix.String())
}
