package journal

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cziter15/BlynkMqttBridge/internal/bridge"
	"github.com/cziter15/BlynkMqttBridge/internal/infrastructure/database"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	DefaultQueueSize     = 1024
	DefaultBatchSize     = 64
	DefaultPruneInterval = time.Hour

	flushTimeout = 5 * time.Second

	// applicationID marks the SQLite file as a transfer journal ("BMJ1").
	applicationID int32 = 0x424D4A31
)

// ErrClosed is returned when the journal is used after Close.
var ErrClosed = errors.New("journal: closed")

// Logger is the logging subset used by the journal.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config controls the journal.
type Config struct {
	Path        string
	WALMode     bool
	BusyTimeout int

	// Retention is the maximum age of a row. Zero disables pruning.
	Retention time.Duration

	QueueSize     int
	BatchSize     int
	PruneInterval time.Duration
}

// Stats reports journal throughput.
type Stats struct {
	Written uint64
	Dropped uint64
	Pruned  uint64
	Pending int
}

// Journal is a bridge.Recorder that persists transfers to SQLite.
type Journal struct {
	db  *database.DB
	cfg Config

	queue chan bridge.Transfer

	closed   atomic.Bool
	started  atomic.Bool
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	written atomic.Uint64
	dropped atomic.Uint64
	pruned  atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// Open opens or creates the journal database and applies its schema.
func Open(ctx context.Context, cfg Config) (*Journal, error) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = DefaultPruneInterval
	}

	db, err := database.Open(ctx, database.Config{
		Path:          cfg.Path,
		WALMode:       cfg.WALMode,
		BusyTimeout:   cfg.BusyTimeout,
		ApplicationID: applicationID,
	})
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	schema, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("loading journal schema: %w", err)
	}
	if err := db.Migrate(ctx, schema); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("migrating journal: %w", err)
	}

	return &Journal{
		db:    db,
		cfg:   cfg,
		queue: make(chan bridge.Transfer, cfg.QueueSize),
	}, nil
}

// Start launches the writer and prune goroutines. It must be called once.
// The goroutines keep ctx's values but not its cancellation: they run until
// Close, so a batch in flight at shutdown is still committed.
func (j *Journal) Start(ctx context.Context) {
	if !j.started.CompareAndSwap(false, true) {
		return
	}
	ctx, j.cancel = context.WithCancel(context.WithoutCancel(ctx))

	j.wg.Add(1)
	go j.writeLoop(ctx)

	if j.cfg.Retention > 0 {
		j.wg.Add(1)
		go j.pruneLoop(ctx)
	}
}

// RecordTransfer queues t for writing. It never blocks; when the queue is
// full the transfer is dropped and counted.
func (j *Journal) RecordTransfer(t bridge.Transfer) {
	if j.closed.Load() {
		j.dropped.Add(1)
		return
	}
	select {
	case j.queue <- t:
	default:
		if j.dropped.Add(1) == 1 {
			j.logWarn("journal queue full, dropping transfers", "queue_size", j.cfg.QueueSize)
		}
	}
}

// Close stops the background goroutines, flushes what is still queued and
// closes the database. It is safe to call more than once.
func (j *Journal) Close() error {
	var err error
	j.stopOnce.Do(func() {
		j.closed.Store(true)
		if j.cancel != nil {
			j.cancel()
		}
		j.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		j.drain(ctx)

		err = j.db.Close()
	})
	return err
}

// Stats returns a snapshot of the journal counters.
func (j *Journal) Stats() Stats {
	return Stats{
		Written: j.written.Load(),
		Dropped: j.dropped.Load(),
		Pruned:  j.pruned.Load(),
		Pending: len(j.queue),
	}
}

// HealthCheck verifies the underlying database.
func (j *Journal) HealthCheck(ctx context.Context) error {
	if j.closed.Load() {
		return ErrClosed
	}
	return j.db.HealthCheck(ctx)
}

// SetLogger sets the logger for write and prune failures.
func (j *Journal) SetLogger(logger Logger) {
	j.loggerMu.Lock()
	j.logger = logger
	j.loggerMu.Unlock()
}

func (j *Journal) writeLoop(ctx context.Context) {
	defer j.wg.Done()

	batch := make([]bridge.Transfer, 0, j.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-j.queue:
			batch = append(batch[:0], t)
			batch = j.fill(batch)
			j.flush(ctx, batch)
		}
	}
}

// fill appends queued transfers to batch without blocking.
func (j *Journal) fill(batch []bridge.Transfer) []bridge.Transfer {
	for len(batch) < j.cfg.BatchSize {
		select {
		case t := <-j.queue:
			batch = append(batch, t)
		default:
			return batch
		}
	}
	return batch
}

func (j *Journal) drain(ctx context.Context) {
	batch := make([]bridge.Transfer, 0, j.cfg.BatchSize)
	for {
		batch = j.fill(batch[:0])
		if len(batch) == 0 {
			return
		}
		j.flush(ctx, batch)
	}
}

func (j *Journal) flush(ctx context.Context, batch []bridge.Transfer) {
	if err := j.insert(ctx, batch); err != nil {
		j.dropped.Add(uint64(len(batch)))
		if !errors.Is(err, context.Canceled) {
			j.logError("journal write failed", "transfers", len(batch), "error", err)
		}
		return
	}
	j.written.Add(uint64(len(batch)))
}

func (j *Journal) pruneLoop(ctx context.Context) {
	defer j.wg.Done()

	j.pruneOnce(ctx)

	ticker := time.NewTicker(j.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.pruneOnce(ctx)
		}
	}
}

func (j *Journal) pruneOnce(ctx context.Context) {
	n, err := j.Prune(ctx, j.cfg.Retention)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			j.logWarn("journal prune failed", "error", err)
		}
		return
	}
	if n > 0 {
		j.logInfo("journal pruned", "rows", n, "retention", j.cfg.Retention.String())
	}
}

func (j *Journal) getLogger() Logger {
	j.loggerMu.RLock()
	defer j.loggerMu.RUnlock()
	return j.logger
}

func (j *Journal) logInfo(msg string, args ...any) {
	if l := j.getLogger(); l != nil {
		l.Info(msg, args...)
	}
}

func (j *Journal) logWarn(msg string, args ...any) {
	if l := j.getLogger(); l != nil {
		l.Warn(msg, args...)
	}
}

func (j *Journal) logError(msg string, args ...any) {
	if l := j.getLogger(); l != nil {
		l.Error(msg, args...)
	}
}

var _ bridge.Recorder = (*Journal)(nil)
