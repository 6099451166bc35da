package indicator

import "math"

// Bar is one aggregated OHLC bar
type Bar struct {
	Open, High, Low, Close float64
}

// series is one incremental indicator fed with closed bars
type series interface {
	add(b Bar)
	value() (float64, bool)
}

// ema seeds with the SMA of the first n closes
type ema struct {
	n     int
	alpha float64
	count int
	sum   float64
	v     float64
}

func newEMA(n int) *ema {
	return &ema{n: n, alpha: 2 / float64(n+1)}
}

func (e *ema) add(b Bar) {
	e.count++
	if e.count <= e.n {
		e.sum += b.Close
		if e.count == e.n {
			e.v = e.sum / float64(e.n)
		}
		return
	}
	e.v += e.alpha * (b.Close - e.v)
}

func (e *ema) value() (float64, bool) {
	return e.v, e.count >= e.n
}

// atr uses Wilder smoothing over true range
type atr struct {
	n       int
	count   int
	sum     float64
	v       float64
	prev    float64
	hasPrev bool
}

func newATR(n int) *atr {
	return &atr{n: n}
}

func (a *atr) add(b Bar) {
	tr := b.High - b.Low
	if a.hasPrev {
		tr = math.Max(tr, math.Max(math.Abs(b.High-a.prev), math.Abs(b.Low-a.prev)))
	}
	a.prev, a.hasPrev = b.Close, true

	a.count++
	if a.count <= a.n {
		a.sum += tr
		if a.count == a.n {
			a.v = a.sum / float64(a.n)
		}
		return
	}
	a.v = (a.v*float64(a.n-1) + tr) / float64(a.n)
}

func (a *atr) value() (float64, bool) {
	return a.v, a.count >= a.n
}

// rsi uses Wilder averages of gains and losses
// 첫 bar는 기준가로만 사용 → n+1개 bar 후 warm-up
type rsi struct {
	n       int
	changes int
	gain    float64
	loss    float64
	prev    float64
	hasPrev bool
}

func newRSI(n int) *rsi {
	return &rsi{n: n}
}

func (r *rsi) add(b Bar) {
	if !r.hasPrev {
		r.prev, r.hasPrev = b.Close, true
		return
	}
	d := b.Close - r.prev
	r.prev = b.Close
	up, down := math.Max(d, 0), math.Max(-d, 0)

	r.changes++
	if r.changes <= r.n {
		r.gain += up / float64(r.n)
		r.loss += down / float64(r.n)
		return
	}
	r.gain = (r.gain*float64(r.n-1) + up) / float64(r.n)
	r.loss = (r.loss*float64(r.n-1) + down) / float64(r.n)
}

func (r *rsi) value() (float64, bool) {
	if r.changes < r.n {
		return 0, false
	}
	if r.loss == 0 {
		return 100, true
	}
	rs := r.gain / r.loss
	return 100 - 100/(1+rs), true
}
