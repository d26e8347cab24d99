package market

import (
	"math"
	"time"
)

// ewmaState is one tracked average for a (symbol, scope, half-life).
// refs counts subscriptions; the state is dropped when it reaches zero
// so untracked averages cost nothing on the trade path.
type ewmaState struct {
	halfLife float64
	value    float64
	last     time.Time
	seeded   bool
	refs     int
}

// update folds a trade at price p, time t into the average. The decay
// weight is 2^(-dt/h): after exactly h seconds with no trades, a prior
// observation contributes half of its original weight. The first trade
// seeds the average at its own price.
func (e *ewmaState) update(p float64, t time.Time) {
	if !e.seeded {
		e.value = p
		e.last = t
		e.seeded = true
		return
	}
	dt := t.Sub(e.last).Seconds()
	if dt < 0 {
		return
	}
	alpha := math.Exp2(-dt / e.halfLife)
	e.value = alpha*e.value + (1-alpha)*p
	e.last = t
}
