package bag

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ReplayMode selects how BagReplayer paces message delivery.
type ReplayMode int

const (
	// ReplayRealTime delivers each message at first_wall + (ts-first_ts)/speed.
	ReplayRealTime ReplayMode = iota
	// ReplayFixedSpeed is an alias of ReplayRealTime with Speed as the
	// explicit multiplier; kept as a distinct mode name for callers that
	// want to express intent (spec §4.E names both separately).
	ReplayFixedSpeed
	// ReplayAsFastAsPossible delivers messages back-to-back with no pacing.
	ReplayAsFastAsPossible
)

// MessageCallback receives each replayed message in order.
type MessageCallback func(Message)

// ReplayerConfig configures a BagReplayer.
type ReplayerConfig struct {
	Mode  ReplayMode
	Speed float64 // multiplier for ReplayRealTime/ReplayFixedSpeed; ignored otherwise

	Topic              string
	StartTime, EndTime int64 // inclusive window in the bag's timestamp units; zero EndTime means no upper bound
}

// BagReplayer owns a BagReader and a worker goroutine that paces delivery
// of its messages to a callback, according to Config.Mode (spec §4.E).
type BagReplayer struct {
	reader *BagReader
	cfg    ReplayerConfig
	log    *zap.Logger

	mu       sync.Mutex
	callback MessageCallback
	running  bool
	paused   chan struct{} // closed while running and not paused; an open channel while paused
	stop     chan struct{}
	done     chan struct{}

	replayed int
	total    int
}

// NewBagReplayer creates a replayer over an already-opened reader. The
// replayer takes ownership of reader and will Close it when Stop returns.
func NewBagReplayer(reader *BagReader, cfg ReplayerConfig, log *zap.Logger) *BagReplayer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}
	if cfg.Topic != "" {
		reader.SetTopicFilter(cfg.Topic)
	}
	return &BagReplayer{
		reader: reader,
		cfg:    cfg,
		log:    log,
		total:  reader.GetMessageCount(),
	}
}

// SetMessageCallback sets the function invoked for each replayed message.
// Must be called before Start.
func (r *BagReplayer) SetMessageCallback(cb MessageCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callback = cb
}

// Start begins the worker goroutine. Seeks the reader to StartTime if set.
func (r *BagReplayer) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.paused = make(chan struct{})
	close(r.paused) // start unpaused
	r.mu.Unlock()

	if r.cfg.StartTime != 0 {
		r.reader.SeekToTimestamp(r.cfg.StartTime)
	}

	go r.run()
}

// Pause suspends delivery after the in-flight message, if any.
func (r *BagReplayer) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	select {
	case <-r.paused:
		r.paused = make(chan struct{})
	default:
		// already paused
	}
}

// Resume continues delivery after a Pause.
func (r *BagReplayer) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	select {
	case <-r.paused:
		// already running
	default:
		close(r.paused)
	}
}

// Stop halts the worker goroutine, waits for it to exit, and closes the
// underlying reader.
func (r *BagReplayer) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	close(r.stop)
	done := r.done
	r.mu.Unlock()

	<-done
	r.reader.Close()

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// Progress returns messages replayed over the total indexed in the bag.
func (r *BagReplayer) Progress() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.total == 0 {
		return 1.0
	}
	return float64(r.replayed) / float64(r.total)
}

func (r *BagReplayer) run() {
	defer close(r.done)

	var firstWall time.Time
	var firstTs int64
	haveFirst := false

	for {
		select {
		case <-r.stop:
			return
		default:
		}

		r.mu.Lock()
		pausedCh := r.paused
		r.mu.Unlock()
		select {
		case <-pausedCh:
		case <-r.stop:
			return
		}

		msg, ok, err := r.reader.ReadNext()
		if err != nil {
			r.log.Warn("bag replay read failed", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		if r.cfg.EndTime != 0 && msg.TimestampNs > r.cfg.EndTime {
			return
		}
		// The seek lands on the largest timestamp <= StartTime, which can
		// precede the window.
		if r.cfg.StartTime != 0 && msg.TimestampNs < r.cfg.StartTime {
			continue
		}

		switch r.cfg.Mode {
		case ReplayRealTime, ReplayFixedSpeed:
			if !haveFirst {
				firstWall = time.Now()
				firstTs = msg.TimestampNs
				haveFirst = true
			}
			target := firstWall.Add(time.Duration(float64(msg.TimestampNs-firstTs) / r.cfg.Speed))
			if d := time.Until(target); d > 0 {
				select {
				case <-time.After(d):
				case <-r.stop:
					return
				}
			}
		case ReplayAsFastAsPossible:
			// no pacing
		}

		r.mu.Lock()
		cb := r.callback
		r.mu.Unlock()
		if cb != nil {
			cb(msg)
		}

		r.mu.Lock()
		r.replayed++
		r.mu.Unlock()
	}
}
