package http

import (
	"sync/atomic"
	"time"
)

// TimeFormat is the IMF-fixdate layout used by the Date header.
const TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"

type cachedDate struct {
	unix  int64
	value []byte
}

// DateCache formats Date header values, reusing the previous result while
// the clock stays within the same second.
type DateCache struct {
	current atomic.Pointer[cachedDate]
}

// Format returns t as an HTTP date. The returned slice must not be modified.
func (c *DateCache) Format(t time.Time) []byte {
	sec := t.Unix()
	if d := c.current.Load(); d != nil && d.unix == sec {
		return d.value
	}
	d := &cachedDate{
		unix:  sec,
		value: t.UTC().AppendFormat(make([]byte, 0, len(TimeFormat)), TimeFormat),
	}
	c.current.Store(d)
	return d.value
}
