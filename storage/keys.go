package storage

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"
)

// sequencer hands out strictly increasing nanosecond stamps so that
// entries written within the same nanosecond still get distinct row keys.
type sequencer struct {
	last int64
}

func (s *sequencer) next(t time.Time) int64 {
	for {
		now := t.UnixNano()
		last := atomic.LoadInt64(&s.last)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&s.last, last, now) {
			return now
		}
	}
}

// invertedKey turns a stamp into a fixed-width row key that sorts newest
// first under the table's ascending key order.
func invertedKey(stamp int64) string {
	return fmt.Sprintf("%019d", math.MaxInt64-stamp)
}

// quote escapes a value for use inside an OData string literal.
func quote(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func eq(field, v string) string {
	return field + " eq " + quote(v)
}
