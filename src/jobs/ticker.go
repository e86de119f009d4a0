package jobs

import "time"

// Like time.Ticker, but the first tick arrives immediately.
type instaTicker struct {
	C <-chan time.Time

	stop   chan struct{}
	ticker *time.Ticker
}

func newInstaTicker(d time.Duration) *instaTicker {
	c := make(chan time.Time)
	it := &instaTicker{
		C:      c,
		stop:   make(chan struct{}),
		ticker: time.NewTicker(d),
	}

	go func() {
		next := time.Now()
		for {
			select {
			case c <- next:
			case <-it.stop:
				return
			}
			select {
			case next = <-it.ticker.C:
			case <-it.stop:
				return
			}
		}
	}()
	return it
}

// Stop must be called exactly once.
func (it *instaTicker) Stop() {
	it.ticker.Stop()
	close(it.stop)
}
