package session

import "time"

// Scheduler runs fn once after d on the session's event goroutine. The
// returned stop func cancels it if it has not fired yet.
type Scheduler interface {
	AfterFunc(d time.Duration, fn func()) (stop func() bool)
}

// RenderState is the state of a plot's image refresh cycle.
type RenderState int

const (
	// AwaitingImage: a requestImage is out and no arrival has been seen for it.
	AwaitingImage RenderState = iota
	// Scheduled: the next requestImage is waiting for its delay to elapse.
	Scheduled
	// Stalled: retries ran out; the plot refreshes again only if an image arrives.
	Stalled
	// Stopped: the plot was closed.
	Stopped
)

func (s RenderState) String() string {
	switch s {
	case AwaitingImage:
		return "awaiting"
	case Scheduled:
		return "scheduled"
	case Stalled:
		return "stalled"
	default:
		return "stopped"
	}
}

type renderLoopConfig struct {
	Scheduler  Scheduler
	Interval   time.Duration
	Timeout    time.Duration
	MaxRetries int

	// Request issues requestImage for a w x h raster.
	Request func(w, h int)
	// Measure returns the raster size for the next request from the live viewport.
	Measure func() (w, h int)
	OnRetry func(attempt int)
	OnStall func()
}

// renderLoop drives one plot's requestImage cadence. Each cycle starts a fixed
// delay after the previous arrival, so backend latency throttles the request
// rate. A watchdog re-issues a lost request and gives up after MaxRetries.
type renderLoop struct {
	cfg   renderLoopConfig
	state RenderState

	w, h    int
	seq     uint64
	retries int

	stopTimer    func() bool
	stopWatchdog func() bool
}

func newRenderLoop(cfg renderLoopConfig) *renderLoop {
	return &renderLoop{cfg: cfg, state: AwaitingImage}
}

// request sends requestImage for a w x h raster and arms the watchdog.
func (l *renderLoop) request(w, h int) {
	if l.state == Stopped {
		return
	}
	l.w, l.h = w, h
	l.state = AwaitingImage
	l.retries = 0
	l.issue()
}

func (l *renderLoop) issue() {
	l.cfg.Request(l.w, l.h)
	l.arm()
}

func (l *renderLoop) arm() {
	l.disarm()
	if l.cfg.Timeout <= 0 {
		return
	}
	l.seq++
	seq := l.seq
	l.stopWatchdog = l.cfg.Scheduler.AfterFunc(l.cfg.Timeout, func() { l.expired(seq) })
}

func (l *renderLoop) disarm() {
	if l.stopWatchdog != nil {
		l.stopWatchdog()
		l.stopWatchdog = nil
	}
}

func (l *renderLoop) expired(seq uint64) {
	if l.state != AwaitingImage || seq != l.seq {
		return
	}
	l.stopWatchdog = nil
	if l.retries < l.cfg.MaxRetries {
		l.retries++
		if l.cfg.OnRetry != nil {
			l.cfg.OnRetry(l.retries)
		}
		l.issue()
		return
	}
	l.state = Stalled
	if l.cfg.OnStall != nil {
		l.cfg.OnStall()
	}
}

// arrived is called after every image arrival, sentinel or not.
func (l *renderLoop) arrived() {
	switch l.state {
	case Stopped, Scheduled:
		return
	}
	l.disarm()
	l.seq++
	l.retries = 0
	l.state = Scheduled
	l.stopTimer = l.cfg.Scheduler.AfterFunc(l.cfg.Interval, l.fire)
}

func (l *renderLoop) fire() {
	if l.state != Scheduled {
		return
	}
	l.stopTimer = nil
	w, h := l.cfg.Measure()
	l.request(w, h)
}

// stop ends the loop. Pending timers are cancelled and late firings ignored.
func (l *renderLoop) stop() {
	l.state = Stopped
	if l.stopTimer != nil {
		l.stopTimer()
		l.stopTimer = nil
	}
	l.disarm()
}
