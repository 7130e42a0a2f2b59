package playhead

import (
	"sync"
	"time"
)

const (
	// DefaultInterval matches the cadence of a browser timeupdate event.
	DefaultInterval = 250 * time.Millisecond
	// SkipStep is the jump applied by SkipForward and SkipBackward.
	SkipStep = 10.0
)

// Option configures a Player.
type Option func(*Player)

// WithInterval sets how often a playing source reports its position.
func WithInterval(d time.Duration) Option {
	return func(p *Player) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClock overrides the monotonic time source used to advance the
// position.
func WithClock(now func() time.Time) Option {
	return func(p *Player) { p.now = now }
}

// Player is an in-process playback runtime. While playing, a ticker
// advances the position from the clock and notifies subscribers; reaching
// the end pauses and rewinds to zero.
type Player struct {
	interval time.Duration
	now      func() time.Time

	mu        sync.Mutex
	contentID string
	duration  float64
	position  float64
	playing   bool
	anchor    time.Time
	anchorPos float64
	stop      chan struct{}
	listeners map[int]Listener
	nextID    int
	closed    bool

	wg sync.WaitGroup
}

var _ Observer = (*Player)(nil)

// NewPlayer returns an idle player with no source loaded.
func NewPlayer(opts ...Option) *Player {
	p := &Player{
		interval:  DefaultInterval,
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subscribe registers l until the returned func is called.
func (p *Player) Subscribe(l Listener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

// Load replaces the source, pausing and rewinding, then announces the new
// duration to subscribers.
func (p *Player) Load(contentID string, duration float64) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.pauseLocked()
	p.contentID = contentID
	if duration < 0 {
		duration = 0
	}
	p.duration = duration
	p.position = 0
	ls := p.snapshotLocked()
	p.mu.Unlock()

	for _, l := range ls {
		l.OnMetadata(duration)
	}
}

// ContentID returns the loaded source id.
func (p *Player) ContentID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.contentID
}

// Play starts advancing the position. It is a no-op without a source.
func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.playing || p.contentID == "" || p.duration <= 0 {
		return
	}
	if p.position >= p.duration {
		p.position = 0
	}
	p.playing = true
	p.anchor = p.now()
	p.anchorPos = p.position
	p.stop = make(chan struct{})

	p.wg.Add(1)
	go p.run(p.stop)
}

// Pause freezes the position.
func (p *Player) Pause() {
	p.mu.Lock()
	p.pauseLocked()
	p.mu.Unlock()
}

// Playing reports whether the ticker is running.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Seek moves the position, clamped to [0, duration]. The new position is
// reported only while playing.
func (p *Player) Seek(seconds float64) {
	p.mu.Lock()
	if p.closed || p.contentID == "" {
		p.mu.Unlock()
		return
	}
	pos := p.clampLocked(seconds)
	p.position = pos
	if !p.playing {
		p.mu.Unlock()
		return
	}
	p.anchor = p.now()
	p.anchorPos = pos
	ls := p.snapshotLocked()
	p.mu.Unlock()

	for _, l := range ls {
		l.OnTimeUpdate(pos)
	}
}

func (p *Player) SkipForward()  { p.Seek(p.Position() + SkipStep) }
func (p *Player) SkipBackward() { p.Seek(p.Position() - SkipStep) }

func (p *Player) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		return p.clampLocked(p.anchorPos + p.now().Sub(p.anchor).Seconds())
	}
	return p.position
}

func (p *Player) Duration() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

// Close stops playback, drops all subscribers and waits for the ticker.
func (p *Player) Close() {
	p.mu.Lock()
	p.pauseLocked()
	p.closed = true
	p.listeners = make(map[int]Listener)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Player) run(stop chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !p.tick(stop) {
				return
			}
		}
	}
}

// tick advances and reports the position. It returns false once the run
// identified by stop is over.
func (p *Player) tick(stop chan struct{}) bool {
	p.mu.Lock()
	if !p.playing || p.stop != stop {
		p.mu.Unlock()
		return false
	}
	pos := p.clampLocked(p.anchorPos + p.now().Sub(p.anchor).Seconds())
	p.position = pos
	ended := pos >= p.duration
	if ended {
		p.playing = false
		close(stop)
		p.stop = nil
	}
	ls := p.snapshotLocked()
	if ended {
		p.position = 0
	}
	p.mu.Unlock()

	for _, l := range ls {
		l.OnTimeUpdate(pos)
	}
	return !ended
}

func (p *Player) pauseLocked() {
	if !p.playing {
		return
	}
	p.position = p.clampLocked(p.anchorPos + p.now().Sub(p.anchor).Seconds())
	p.playing = false
	close(p.stop)
	p.stop = nil
}

func (p *Player) clampLocked(pos float64) float64 {
	switch {
	case pos < 0:
		return 0
	case pos > p.duration:
		return p.duration
	default:
		return pos
	}
}

func (p *Player) snapshotLocked() []Listener {
	ls := make([]Listener, 0, len(p.listeners))
	for _, l := range p.listeners {
		ls = append(ls, l)
	}
	return ls
}
