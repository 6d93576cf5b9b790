// Package cachesync broadcasts local-tier invalidations over Redis pub/sub.
//
// Each process runs one Synchronizer per channel. A write or removal publishes
// a Message; every subscriber, the publisher included, evicts the key from its
// local tier. The remote tier is shared and never touched here. Delivery is
// at-most-once: a subscriber that is disconnected when a message is published
// misses it and serves its local copy until the local TTL runs out.
package cachesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/hybridcache/log"
)

const (
	DefaultChannel        = "hybridcache:sync"
	DefaultWorkers        = 1
	DefaultQueueSize      = 1024
	DefaultPublishTimeout = 2 * time.Second
	DefaultStaleAfter     = 60 * time.Second
)

var (
	ErrClosed         = errors.New("cachesync: closed")
	ErrQueueFull      = errors.New("cachesync: publish queue full")
	ErrAlreadyStarted = errors.New("cachesync: already started")
)

type MessageType string

const (
	Invalidate         MessageType = "invalidate"
	InvalidateByPrefix MessageType = "invalidate_prefix"
)

type Message struct {
	Type      MessageType `json:"type"`
	Key       string      `json:"key"`
	Timestamp time.Time   `json:"timestamp"`
}

// Evictor drops entries from a process-local tier.
type Evictor interface {
	EvictLocal(ctx context.Context, key string) error
	EvictLocalPrefix(ctx context.Context, prefix string) error
}

type Config struct {
	Client         goredis.UniversalClient
	Channel        string
	Logger         log.Logger
	Workers        int           // publish goroutines
	QueueSize      int           // pending publishes before drops
	PublishTimeout time.Duration // per publish, independent of the caller's ctx
	StaleAfter     time.Duration // received messages older than this are ignored
}

type Stats struct {
	Published uint64
	Dropped   uint64
	Received  uint64
	Stale     uint64
}

type job struct {
	ctx context.Context
	msg Message
}

type Synchronizer struct {
	rdb     goredis.UniversalClient
	channel string
	logger  log.Logger
	timeout time.Duration
	stale   time.Duration

	mu      sync.RWMutex
	closed  bool
	started bool
	q       chan job
	pubWG   sync.WaitGroup

	ps     *goredis.PubSub
	done   chan struct{}
	loopWG sync.WaitGroup

	published, dropped, received, staleCtr atomic.Uint64
}

func New(cfg Config) (*Synchronizer, error) {
	if cfg.Client == nil {
		return nil, errors.New("cachesync: nil redis client")
	}
	s := &Synchronizer{
		rdb:     cfg.Client,
		channel: cfg.Channel,
		logger:  log.OrNop(cfg.Logger),
		timeout: cfg.PublishTimeout,
		stale:   cfg.StaleAfter,
		done:    make(chan struct{}),
	}
	if s.channel == "" {
		s.channel = DefaultChannel
	}
	if s.timeout <= 0 {
		s.timeout = DefaultPublishTimeout
	}
	if s.stale <= 0 {
		s.stale = DefaultStaleAfter
	}
	workers, qlen := cfg.Workers, cfg.QueueSize
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if qlen <= 0 {
		qlen = DefaultQueueSize
	}
	s.q = make(chan job, qlen)
	s.pubWG.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer s.pubWG.Done()
			for j := range s.q {
				s.publishJob(j)
			}
		}()
	}
	return s, nil
}

func (s *Synchronizer) Channel() string { return s.channel }

// PublishInvalidate queues an invalidation for key and returns immediately.
// The publish outlives ctx cancellation but is bounded by PublishTimeout.
func (s *Synchronizer) PublishInvalidate(ctx context.Context, key string) error {
	return s.enqueue(ctx, Message{Type: Invalidate, Key: key})
}

func (s *Synchronizer) PublishInvalidateByPrefix(ctx context.Context, prefix string) error {
	return s.enqueue(ctx, Message{Type: InvalidateByPrefix, Key: prefix})
}

func (s *Synchronizer) enqueue(ctx context.Context, m Message) error {
	m.Timestamp = time.Now().UTC()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.q <- job{ctx: context.WithoutCancel(ctx), msg: m}:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("sync publish dropped, queue full", log.Fields{"type": string(m.Type), "key": m.Key})
		return ErrQueueFull
	}
}

func (s *Synchronizer) publishJob(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, s.timeout)
	defer cancel()
	if err := s.Publish(ctx, j.msg); err != nil {
		s.logger.Error("sync publish failed", log.Fields{"type": string(j.msg.Type), "key": j.msg.Key, "err": err})
	}
}

// Publish sends m synchronously. A zero Timestamp is stamped with now.
func (s *Synchronizer) Publish(ctx context.Context, m Message) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("cachesync: encode: %w", err)
	}
	if err := s.rdb.Publish(ctx, s.channel, b).Err(); err != nil {
		return fmt.Errorf("cachesync: publish: %w", err)
	}
	s.published.Add(1)
	s.logger.Debug("sync published", log.Fields{"type": string(m.Type), "key": m.Key, "channel": s.channel})
	return nil
}

// Start subscribes to the channel and applies incoming messages to every
// evictor. It returns once the subscription is confirmed. The receive loop
// runs until ctx ends or Close is called.
func (s *Synchronizer) Start(ctx context.Context, evictors ...Evictor) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	ps := s.rdb.Subscribe(ctx, s.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("cachesync: subscribe %q: %w", s.channel, err)
	}
	s.mu.Lock()
	if s.closed {
		// Close ran while subscribing and could not see ps
		s.mu.Unlock()
		_ = ps.Close()
		return ErrClosed
	}
	s.ps = ps
	s.mu.Unlock()
	s.logger.Info("sync subscribed", log.Fields{"channel": s.channel})

	ch := ps.Channel()
	loopCtx := context.WithoutCancel(ctx)
	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		for {
			select {
			case <-ctx.Done():
				_ = ps.Close()
				return
			case <-s.done:
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				s.handle(loopCtx, m.Payload, evictors)
			}
		}
	}()
	return nil
}

func (s *Synchronizer) handle(ctx context.Context, payload string, evictors []Evictor) {
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		s.logger.Warn("sync message undecodable", log.Fields{"err": err})
		return
	}
	s.received.Add(1)
	if age := time.Since(m.Timestamp); age > s.stale {
		s.staleCtr.Add(1)
		s.logger.Debug("sync message stale", log.Fields{"key": m.Key, "age": age.String()})
		return
	}
	for _, e := range evictors {
		var err error
		switch m.Type {
		case Invalidate:
			err = e.EvictLocal(ctx, m.Key)
		case InvalidateByPrefix:
			err = e.EvictLocalPrefix(ctx, m.Key)
		default:
			s.logger.Warn("sync message type unknown", log.Fields{"type": string(m.Type)})
			return
		}
		if err != nil {
			s.logger.Warn("sync evict failed", log.Fields{"type": string(m.Type), "key": m.Key, "err": err})
		}
	}
}

func (s *Synchronizer) Stats() Stats {
	return Stats{
		Published: s.published.Load(),
		Dropped:   s.dropped.Load(),
		Received:  s.received.Load(),
		Stale:     s.staleCtr.Load(),
	}
}

// Close drains queued publishes (bounded by ctx) and stops the subscription.
// It does not close the redis client.
func (s *Synchronizer) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.q)
	ps := s.ps
	s.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		s.pubWG.Wait()
		close(drained)
	}()
	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		err = fmt.Errorf("cachesync: close: %w", ctx.Err())
	}

	close(s.done)
	if ps != nil {
		if cerr := ps.Close(); cerr != nil && !errors.Is(cerr, goredis.ErrClosed) && err == nil {
			err = cerr
		}
	}
	s.loopWG.Wait()
	return err
}
