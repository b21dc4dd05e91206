package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/workly/workly-gate/internal/domain/audit"
)

const (
	defaultAuditChannelSize = 1000
	finalFlushTimeout       = 5 * time.Second
)

// AuditService is the decision log writer. The gate hands each access
// decision to Record; a single worker groups them into batches for the
// configured store (ring buffer, JSON Lines directory or SQLite).
type AuditService struct {
	store  audit.AuditStore
	queue  chan audit.DecisionRecord
	logger *slog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once

	batchSize     int
	flushInterval time.Duration
	channelSize   int
	sendTimeout   time.Duration

	dropCount atomic.Int64
	onDrop    func()

	warningThreshold int
	lastWarning      atomic.Int64

	// Queue depth, in percent, at which the worker flushes on every record
	// and ticks four times as often. 0 turns it off.
	adaptiveFlushThreshold int
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize caps how many decisions go to the store in one Append.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets how long a partial batch may wait.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.queue = make(chan audit.DecisionRecord, size)
			s.channelSize = size
		}
	}
}

// WithSendTimeout bounds how long Record waits on a full queue. Zero drops
// at once.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the queue depth percent that logs a warning.
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.warningThreshold = clampPercent(percent)
	}
}

func WithAdaptiveFlushThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.adaptiveFlushThreshold = clampPercent(percent)
	}
}

// WithDropHook registers fn, called once per dropped decision.
func WithDropHook(fn func()) AuditOption {
	return func(s *AuditService) {
		s.onDrop = fn
	}
}

func clampPercent(p int) int {
	return min(max(p, 0), 100)
}

// NewAuditService creates the decision log writer for store.
func NewAuditService(store audit.AuditStore, logger *slog.Logger, opts ...AuditOption) *AuditService {
	s := &AuditService{
		store:                  store,
		queue:                  make(chan audit.DecisionRecord, defaultAuditChannelSize),
		logger:                 logger,
		batchSize:              100,
		flushInterval:          time.Second,
		channelSize:            defaultAuditChannelSize,
		sendTimeout:            100 * time.Millisecond,
		warningThreshold:       80,
		adaptiveFlushThreshold: 80,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the worker. It keeps running after ctx is cancelled until
// Stop closes the queue.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record queues a decision. A full queue blocks for at most sendTimeout,
// then the decision is dropped and counted.
func (s *AuditService) Record(record audit.DecisionRecord) {
	if s.warningThreshold > 0 {
		if depth := len(s.queue); depth >= s.channelSize*s.warningThreshold/100 {
			s.warnQueueDepth(depth)
		}
	}

	select {
	case s.queue <- record:
		return
	default:
	}
	if s.sendTimeout <= 0 {
		s.drop(record)
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.queue <- record:
	case <-timer.C:
		s.drop(record)
	}
}

func (s *AuditService) drop(record audit.DecisionRecord) {
	drops := s.dropCount.Add(1)
	if s.onDrop != nil {
		s.onDrop()
	}
	s.logger.Warn("decision dropped from audit log",
		"path", record.Path,
		"decision", record.Decision,
		"total_drops", drops,
	)
}

// warnQueueDepth logs at most once per second.
func (s *AuditService) warnQueueDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("decision log queue filling up",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedRecords returns how many decisions were never logged.
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

func (s *AuditService) ChannelDepth() int {
	return len(s.queue)
}

func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// Stop closes the queue and waits until every queued decision reached the
// store. Record must not be called afterwards.
func (s *AuditService) Stop() {
	s.stopOnce.Do(func() {
		close(s.queue)
	})
	s.wg.Wait()
}

func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.DecisionRecord, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	fast := false

	for {
		select {
		case record, ok := <-s.queue:
			if !ok {
				s.finalFlush(batch)
				return
			}
			batch = append(batch, record)

			depthPercent := len(s.queue) * 100 / s.channelSize
			pressured := s.adaptiveFlushThreshold > 0 && depthPercent >= s.adaptiveFlushThreshold
			if len(batch) >= s.batchSize || pressured {
				s.write(ctx, batch)
				batch = batch[:0]
			}
			if s.adaptiveFlushThreshold > 0 && pressured != fast {
				fast = pressured
				s.retune(ticker, fast, depthPercent)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.write(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			for record := range s.queue {
				batch = append(batch, record)
			}
			s.finalFlush(batch)
			return
		}
	}
}

func (s *AuditService) retune(ticker *time.Ticker, fast bool, depthPercent int) {
	interval := s.flushInterval
	if fast {
		interval /= 4
	}
	ticker.Reset(interval)
	s.logger.Debug("decision log flush interval changed",
		"fast", fast,
		"depth_percent", depthPercent,
		"interval", interval,
	)
}

func (s *AuditService) finalFlush(batch []audit.DecisionRecord) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	s.write(ctx, batch)
	if err := s.store.Flush(ctx); err != nil {
		s.logger.Error("failed to flush decision store", "error", err)
	}
}

// write never fails the caller; store errors are only logged.
func (s *AuditService) write(ctx context.Context, batch []audit.DecisionRecord) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write decision batch",
			"error", err,
			"count", len(batch),
		)
	}
}
