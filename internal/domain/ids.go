package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewClientOrderID builds a cloid in the {symbol}_{side}_{yyyymmddHHMMSS}_{rand}
// format, reused across add/reduce/close messages belonging to one trade.
func NewClientOrderID(symbol, side string, now time.Time) string {
	rand := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s_%s", symbol, side, now.UTC().Format("20060102150405"), rand)
}

// DedupKey identifies a single observation of an order or position update,
// as the pair (id, uTime) from spec's dedup key definition. ID is the oid
// for order events and the pid for position events.
type DedupKey struct {
	ID      string
	UTimeMs int64
}

func (k DedupKey) String() string {
	return fmt.Sprintf("%s@%d", k.ID, k.UTimeMs)
}
