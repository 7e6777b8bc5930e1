package idutil

// PerfCounters records the begin/end millisecond timestamps of the
// phases tracked on Request and Contribution (start_ms, read_ms,
// load_ms in the data model). Zero means "not yet reached".
type PerfCounters struct {
	clock Clock

	StartMs int64
	ReadMs  int64
	LoadMs  int64
}

// NewPerfCounters creates a PerfCounters driven by clock.
func NewPerfCounters(clock Clock) *PerfCounters {
	return &PerfCounters{clock: clock}
}

func (p *PerfCounters) nowMs() int64 {
	return p.clock.Now().UnixMilli()
}

// MarkStart records StartMs as now, if not already set.
func (p *PerfCounters) MarkStart() {
	if p.StartMs == 0 {
		p.StartMs = p.nowMs()
	}
}

// MarkRead records ReadMs as now, if not already set.
func (p *PerfCounters) MarkRead() {
	if p.ReadMs == 0 {
		p.ReadMs = p.nowMs()
	}
}

// MarkLoad records LoadMs as now, if not already set.
func (p *PerfCounters) MarkLoad() {
	if p.LoadMs == 0 {
		p.LoadMs = p.nowMs()
	}
}

// ReadDurationMs returns the elapsed time between start and read, or
// 0 if either mark is missing.
func (p *PerfCounters) ReadDurationMs() int64 {
	if p.StartMs == 0 || p.ReadMs == 0 {
		return 0
	}
	return p.ReadMs - p.StartMs
}

// LoadDurationMs returns the elapsed time between read and load, or 0
// if either mark is missing.
func (p *PerfCounters) LoadDurationMs() int64 {
	if p.ReadMs == 0 || p.LoadMs == 0 {
		return 0
	}
	return p.LoadMs - p.ReadMs
}
