package feed

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"
)

// Subscriber is one bounded live-event queue, created per SSE
// connection.
type Subscriber struct {
	ch chan Event
}

// Events exposes the subscriber's queue for reading.
func (s *Subscriber) Events() <-chan Event { return s.ch }

// Distributor forwards a locally produced event to siblings, e.g. a
// Redis channel. Failures are counted by the feed, never raised.
type Distributor func(ctx context.Context, ev Event) error

// Config sizes a Feed.
type Config struct {
	BufferSize          int
	SubscriberQueueSize int
	MaxLineChars        int
	InstanceID          string
	Redactor            *Redactor
}

// Stats is a snapshot of feed counters.
type Stats struct {
	BufferLen           int    `json:"buffer_size"`
	Subscribers         int    `json:"subscriber_count"`
	Dropped             uint64 `json:"dropped_events"`
	DistributorFailures uint64 `json:"distributed_publish_failures"`
}

// Feed owns the event ring buffer and subscriber set. All mutation
// happens on one run-loop goroutine; producers hand events over a
// buffered channel and never block, so logging cannot stall the
// application.
type Feed struct {
	instance  string
	maxLine   int
	queueSize int
	redactor  *Redactor

	in   chan item
	cmds chan func()
	done chan struct{}
	once sync.Once

	// Loop-owned state. Only the run goroutine touches these.
	buffer      []Event
	next        int
	count       int
	subs        map[*Subscriber]struct{}
	distributor Distributor

	dropped      atomic.Uint64
	distFailures atomic.Uint64
}

type item struct {
	ev         Event
	distribute bool
}

// New starts a feed and its run loop.
func New(cfg Config) *Feed {
	bufSize := cfg.BufferSize
	if bufSize < 10 {
		bufSize = 10
	}
	queueSize := cfg.SubscriberQueueSize
	if queueSize < 10 {
		queueSize = 10
	}
	maxLine := cfg.MaxLineChars
	if maxLine < 256 {
		maxLine = 256
	}
	redactor := cfg.Redactor
	if redactor == nil {
		redactor = NewRedactor("")
	}
	f := &Feed{
		instance:  cfg.InstanceID,
		maxLine:   maxLine,
		queueSize: queueSize,
		redactor:  redactor,
		in:        make(chan item, 256),
		cmds:      make(chan func()),
		done:      make(chan struct{}),
		buffer:    make([]Event, bufSize),
		subs:      map[*Subscriber]struct{}{},
	}
	go f.run()
	return f
}

// Close stops the run loop. Pending events are dropped.
func (f *Feed) Close() {
	f.once.Do(func() { close(f.done) })
}

// Publish ingests a locally produced event. Never blocks: when the
// intake queue is full the event is dropped and counted.
func (f *Feed) Publish(source, level, message string) {
	f.enqueue(item{ev: f.buildEvent(source, level, message), distribute: true})
}

// Ingest accepts an event from the cross-replica bus. Events carrying
// the local instance id are echoes of our own publishes and skipped.
func (f *Feed) Ingest(ev Event) {
	if ev.Instance == f.instance {
		return
	}
	f.enqueue(item{ev: f.normalizeExternal(ev)})
}

// SetDistributor installs or clears the cross-replica forwarder.
func (f *Feed) SetDistributor(d Distributor) {
	f.runCmd(func() { f.distributor = d })
}

// Subscribe registers a new bounded queue for live events.
func (f *Feed) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan Event, f.queueSize)}
	f.runCmd(func() { f.subs[sub] = struct{}{} })
	return sub
}

// Unsubscribe removes a subscriber; its queue is left to the GC.
func (f *Feed) Unsubscribe(sub *Subscriber) {
	f.runCmd(func() { delete(f.subs, sub) })
}

// Backlog returns up to limit buffered events passing the filters,
// oldest-first for natural reading order.
func (f *Feed) Backlog(limit int, minLevel string, sources map[string]struct{}) []Event {
	var out []Event
	f.runCmd(func() {
		bounded := limit
		if bounded < 1 {
			bounded = 1
		}
		if bounded > f.count {
			bounded = f.count
		}
		size := len(f.buffer)
		for i := 0; i < f.count && len(out) < bounded; i++ {
			idx := (f.next - 1 - i + size*2) % size
			ev := f.buffer[idx]
			if ev.Matches(minLevel, sources) {
				out = append(out, ev)
			}
		}
		for l, r := 0, len(out)-1; l < r; l, r = l+1, r-1 {
			out[l], out[r] = out[r], out[l]
		}
	})
	return out
}

// Stats returns a counter snapshot.
func (f *Feed) Stats() Stats {
	st := Stats{
		Dropped:             f.dropped.Load(),
		DistributorFailures: f.distFailures.Load(),
	}
	f.runCmd(func() {
		st.BufferLen = f.count
		st.Subscribers = len(f.subs)
	})
	return st
}

func (f *Feed) countDrop() {
	f.dropped.Add(1)
	droppedTotal.Inc()
}

func (f *Feed) countDistFailure() {
	f.distFailures.Add(1)
	distFailuresTotal.Inc()
}

func (f *Feed) enqueue(it item) {
	select {
	case <-f.done:
		return
	default:
	}
	select {
	case f.in <- it:
	default:
		f.countDrop()
	}
}

// runCmd executes fn on the run loop and waits for completion. After
// Close it becomes a no-op.
func (f *Feed) runCmd(fn func()) {
	ack := make(chan struct{})
	select {
	case f.cmds <- func() { fn(); close(ack) }:
		<-ack
	case <-f.done:
	}
}

func (f *Feed) run() {
	for {
		select {
		case it := <-f.in:
			f.deliver(it)
		case fn := <-f.cmds:
			fn()
		case <-f.done:
			return
		}
	}
}

// deliver appends to the ring and fans out. On a full subscriber queue
// the oldest queued item is evicted to keep the most recent events; if
// the send still fails the event is dropped. Never blocks.
func (f *Feed) deliver(it item) {
	f.buffer[f.next] = it.ev
	f.next = (f.next + 1) % len(f.buffer)
	if f.count < len(f.buffer) {
		f.count++
	}
	for sub := range f.subs {
		select {
		case sub.ch <- it.ev:
			continue
		default:
		}
		select {
		case <-sub.ch:
			f.countDrop()
		default:
		}
		select {
		case sub.ch <- it.ev:
		default:
			f.countDrop()
		}
	}
	if it.distribute && f.distributor != nil {
		d := f.distributor
		go func(ev Event) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := d(ctx, ev); err != nil {
				f.countDistFailure()
			}
		}(it.ev)
	}
}

func (f *Feed) buildEvent(source, level, message string) Event {
	source = strings.TrimSpace(source)
	if source == "" {
		source = "gateway"
	}
	return Event{
		TS:       nowTS(),
		Source:   clamp(source, 120),
		Level:    NormalizeLevel(level, "INFO"),
		Message:  f.sanitize(message),
		Instance: f.instance,
	}
}

func (f *Feed) normalizeExternal(ev Event) Event {
	source := strings.TrimSpace(ev.Source)
	if source == "" {
		source = "external"
	}
	instance := strings.TrimSpace(ev.Instance)
	if instance == "" {
		instance = "external"
	}
	ts := strings.TrimSpace(ev.TS)
	if ts == "" {
		ts = nowTS()
	}
	return Event{
		TS:       clamp(ts, 64),
		Source:   clamp(source, 120),
		Level:    NormalizeLevel(ev.Level, "INFO"),
		Message:  f.sanitize(ev.Message),
		Instance: clamp(instance, 120),
	}
}

// sanitize flattens newlines, redacts credentials, and truncates to
// the configured line length. Length is counted in runes so truncation
// never splits a multi-byte character.
func (f *Feed) sanitize(message string) string {
	text := strings.ReplaceAll(message, "\r", " ")
	text = strings.ReplaceAll(text, "\n", " \\n ")
	text = f.redactor.Redact(text)
	if utf8.RuneCountInString(text) > f.maxLine {
		runes := []rune(text)
		return string(runes[:f.maxLine-12]) + "...[truncated]"
	}
	return text
}

func clamp(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
