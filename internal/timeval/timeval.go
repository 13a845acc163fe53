// Package timeval implements the (seconds, microseconds) timestamp arithmetic
// used to order scheduler entries.
//
// Values are kept normalized: Usec is always in [0, OneMillion). Arithmetic
// normalizes its operands first and reports out-of-range inputs through a Calc,
// which logs a warning instead of failing the operation.
package timeval

import (
	"fmt"
	"time"
)

// OneMillion is the number of microseconds in a second.
const OneMillion = 1_000_000

// Timeval is an absolute timestamp or an offset.
type Timeval struct {
	Sec  int64
	Usec int64
}

// New returns a Timeval without normalizing it.
func New(sec, usec int64) Timeval { return Timeval{Sec: sec, Usec: usec} }

// Now reads the wall clock.
//
// The wall clock is not monotonic: a backward step of the system clock delays
// firing and a forward step advances it. This is not corrected.
func Now() Timeval { return FromTime(time.Now()) }

// FromTime converts t, truncating to microseconds.
func FromTime(t time.Time) Timeval {
	return Timeval{Sec: t.Unix(), Usec: int64(t.Nanosecond() / 1000)}
}

// FromMillis builds an offset from a millisecond count. Negative counts borrow
// from the seconds so the result stays normalized.
func FromMillis(ms int64) Timeval {
	tv := Timeval{Sec: ms / 1000, Usec: (ms % 1000) * 1000}
	if tv.Usec < 0 {
		tv.Usec += OneMillion
		tv.Sec--
	}
	return tv
}

// FromDuration builds an offset from d, truncating to microseconds.
func FromDuration(d time.Duration) Timeval {
	us := d.Microseconds()
	tv := Timeval{Sec: us / OneMillion, Usec: us % OneMillion}
	if tv.Usec < 0 {
		tv.Usec += OneMillion
		tv.Sec--
	}
	return tv
}

// Time converts an absolute Timeval back to a time.Time.
func (t Timeval) Time() time.Time { return time.Unix(t.Sec, t.Usec*1000) }

// Duration interprets t as an offset.
func (t Timeval) Duration() time.Duration {
	return time.Duration(t.Sec)*time.Second + time.Duration(t.Usec)*time.Microsecond
}

// IsZero reports whether both components are zero.
func (t Timeval) IsZero() bool { return t.Sec == 0 && t.Usec == 0 }

// String renders the value as "sec : usec", zero padded.
func (t Timeval) String() string { return fmt.Sprintf("%.6d : %.6d", t.Sec, t.Usec) }

// Compare orders a and b lexicographically on (Sec, Usec) and returns -1, 0 or +1.
// Operands are compared as given; callers hold normalized values.
func Compare(a, b Timeval) int {
	switch {
	case a.Sec < b.Sec:
		return -1
	case a.Sec > b.Sec:
		return 1
	case a.Usec < b.Usec:
		return -1
	case a.Usec > b.Usec:
		return 1
	default:
		return 0
	}
}

// Before reports whether a is strictly earlier than b.
func Before(a, b Timeval) bool { return Compare(a, b) < 0 }

// DiffMillis returns a-b in whole milliseconds, rounded towards negative infinity.
func DiffMillis(a, b Timeval) int64 {
	return (a.Sec-b.Sec)*1000 + ((OneMillion+a.Usec-b.Usec)/1000 - 1000)
}

// Anomaly describes how Fix corrected a value.
type Anomaly int

const (
	AnomalyNone Anomaly = iota
	// AnomalyOverflow means Usec was >= OneMillion and was carried into Sec.
	AnomalyOverflow
	// AnomalyNegative means Usec was negative and was clamped to zero.
	AnomalyNegative
)

func (a Anomaly) String() string {
	switch a {
	case AnomalyOverflow:
		return "overflow"
	case AnomalyNegative:
		return "negative"
	default:
		return "none"
	}
}

// Fix normalizes t and reports what it had to correct.
//
// An oversized fraction is carried into the seconds. A negative fraction is
// clamped to zero, never borrowed: it signals a miscomputation upstream.
func Fix(t Timeval) (Timeval, Anomaly) {
	switch {
	case t.Usec >= OneMillion:
		t.Sec += t.Usec / OneMillion
		t.Usec %= OneMillion
		return t, AnomalyOverflow
	case t.Usec < 0:
		t.Usec = 0
		return t, AnomalyNegative
	default:
		return t, AnomalyNone
	}
}

// Normalize is Fix without reporting.
func Normalize(t Timeval) Timeval { return (*Calc)(nil).Normalize(t) }

// Add returns a+b without logging anomalies.
func Add(a, b Timeval) Timeval { return (*Calc)(nil).Add(a, b) }

// Sub returns a-b without logging anomalies.
func Sub(a, b Timeval) Timeval { return (*Calc)(nil).Sub(a, b) }
