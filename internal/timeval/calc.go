package timeval

import (
	"sync/atomic"

	"golang.org/x/time/rate"

	logx "pewsched/pkg/logx"
)

// Calc performs timestamp arithmetic and reports normalization anomalies.
//
// Warnings are rate limited; anomalies beyond the limit are counted and the
// count is attached to the next warning that gets through. A nil *Calc is
// valid and silent.
type Calc struct {
	log logx.Logger
	lim *rate.Limiter

	anomalies  atomic.Uint64
	suppressed atomic.Uint64
}

// NewCalc returns a Calc that logs at most perSec warnings per second.
// perSec <= 0 disables the limit.
func NewCalc(log logx.Logger, perSec float64) *Calc {
	lim := rate.NewLimiter(rate.Inf, 1)
	if perSec > 0 {
		burst := int(perSec)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(perSec), burst)
	}
	return &Calc{log: log, lim: lim}
}

// Anomalies returns how many out-of-range operands this Calc has corrected.
func (c *Calc) Anomalies() uint64 {
	if c == nil {
		return 0
	}
	return c.anomalies.Load()
}

// Normalize puts t in range, logging a warning if it was not.
func (c *Calc) Normalize(t Timeval) Timeval {
	fixed, an := Fix(t)
	if an != AnomalyNone {
		c.report(t, an)
	}
	return fixed
}

// Add normalizes both operands, sums them and carries the fraction.
func (c *Calc) Add(a, b Timeval) Timeval {
	a = c.Normalize(a)
	b = c.Normalize(b)
	a.Sec += b.Sec
	a.Usec += b.Usec
	if a.Usec >= OneMillion {
		a.Sec++
		a.Usec -= OneMillion
	}
	return a
}

// Sub normalizes both operands, subtracts and borrows from the seconds.
func (c *Calc) Sub(a, b Timeval) Timeval {
	a = c.Normalize(a)
	b = c.Normalize(b)
	a.Sec -= b.Sec
	a.Usec -= b.Usec
	if a.Usec < 0 {
		a.Sec--
		a.Usec += OneMillion
	}
	return a
}

func (c *Calc) report(t Timeval, an Anomaly) {
	if c == nil {
		return
	}
	c.anomalies.Add(1)
	if c.log.IsZero() {
		return
	}
	if c.lim != nil && !c.lim.Allow() {
		c.suppressed.Add(1)
		return
	}
	msg := "timestamp fraction too large"
	if an == AnomalyNegative {
		msg = "timestamp fraction negative"
	}
	c.log.Warn(msg,
		logx.Int64("sec", t.Sec),
		logx.Int64("usec", t.Usec),
		logx.String("anomaly", an.String()),
		logx.Uint64("suppressed", c.suppressed.Swap(0)),
	)
}
