package workflow

type progressTracker struct {
	fn   ProgressFunc
	last int
}

// emit clamps to [0,100] and never reports less than what was already sent.
func (p *progressTracker) emit(percent int, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent < p.last {
		percent = p.last
	}
	p.last = percent
	if p.fn != nil {
		p.fn(percent, message)
	}
}
