package maintenance

import "math"

type Reporter struct {
	op   Operation
	sink ProgressSink
	last float64
}

func NewReporter(op Operation, sink ProgressSink) *Reporter {
	return &Reporter{op: op, sink: sink}
}

// Emit clamps percent to [0,100], rounds it to two decimals and forwards it.
// A nil Reporter or one without a sink only records the value.
func (r *Reporter) Emit(phase Phase, percent float64, detail string, counts ...Counts) {
	if r == nil {
		return
	}

	switch {
	case math.IsNaN(percent) || percent < 0:
		percent = 0
	case percent > 100:
		percent = 100
	}
	percent = math.Round(percent*100) / 100
	r.last = percent

	if r.sink == nil {
		return
	}
	event := Progress{Operation: r.op, Phase: phase, Percent: percent, Detail: detail}
	if len(counts) > 0 {
		c := counts[0]
		event.Counts = &c
	}
	r.sink(event)
}

func (r *Reporter) Last() float64 {
	if r == nil {
		return 0
	}
	return r.last
}

// span maps done/total onto [from, to].
func span(from, to float64, done, total int) float64 {
	if total <= 0 {
		return to
	}
	return from + (to-from)*float64(done)/float64(total)
}
