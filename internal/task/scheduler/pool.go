package scheduler

// pool is a bounded LIFO of retired entry shells.
type pool struct {
	free []*entry
	cap  int
}

func newPool(capacity int) pool {
	if capacity < 0 {
		capacity = 0
	}
	return pool{cap: capacity}
}

func (p *pool) get() *entry {
	n := len(p.free)
	if n == 0 {
		return &entry{}
	}
	e := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	return e
}

// put clears e and keeps it if there is room. It reports whether e was kept.
func (p *pool) put(e *entry) bool {
	*e = entry{}
	if len(p.free) >= p.cap {
		return false
	}
	p.free = append(p.free, e)
	return true
}

func (p *pool) setCap(n int) {
	if n < 0 {
		n = 0
	}
	p.cap = n
	if len(p.free) > n {
		clear(p.free[n:])
		p.free = p.free[:n]
	}
}

func (p *pool) len() int { return len(p.free) }

func (p *pool) reset() {
	clear(p.free)
	p.free = nil
}
