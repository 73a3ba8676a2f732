package corpus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hyperjump/kakunin/internal/models"
	"go.uber.org/zap"
)

// Library owns the document store and the current snapshot. Writes go to the
// store and trigger a rebuild; reads load the snapshot pointer once.
type Library struct {
	store       DocumentStore
	builder     *Builder
	debounce    time.Duration
	retireAfter time.Duration
	logger      *zap.Logger
	onSwap      func(*Snapshot)

	current atomic.Pointer[Snapshot]
	buildMu sync.Mutex

	timerMu sync.Mutex
	timer   *time.Timer
	closed  bool
}

// LibraryOption configures a Library.
type LibraryOption func(*Library)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) LibraryOption {
	return func(lib *Library) { lib.logger = l }
}

// WithDebounce delays rebuilds after writes so a burst of uploads produces one
// rebuild. Zero rebuilds synchronously inside each write.
func WithDebounce(d time.Duration) LibraryOption {
	return func(lib *Library) { lib.debounce = d }
}

// defaultRetireDelay is how long a replaced snapshot stays searchable for
// queries that loaded it before the swap.
const defaultRetireDelay = 30 * time.Second

// WithRetireDelay sets how long a replaced snapshot keeps its indexes open.
// Zero closes them as soon as searches already running on it return.
func WithRetireDelay(d time.Duration) LibraryOption {
	return func(lib *Library) { lib.retireAfter = d }
}

// WithSwapHook registers fn to run after every snapshot swap.
func WithSwapHook(fn func(*Snapshot)) LibraryOption {
	return func(lib *Library) { lib.onSwap = fn }
}

// NewLibrary creates a library serving an empty snapshot until the first rebuild.
func NewLibrary(store DocumentStore, builder *Builder, opts ...LibraryOption) *Library {
	lib := &Library{
		store:       store,
		builder:     builder,
		retireAfter: defaultRetireDelay,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(lib)
	}
	lib.current.Store(emptySnapshot())
	return lib
}

// Snapshot returns the current snapshot. It is never nil.
func (l *Library) Snapshot() *Snapshot {
	return l.current.Load()
}

// Rebuild builds a snapshot from every stored document and swaps it in.
// Queries already holding the previous snapshot keep using it until its
// indexes are closed after the retire delay.
func (l *Library) Rebuild(ctx context.Context) (*Snapshot, error) {
	l.buildMu.Lock()
	defer l.buildMu.Unlock()
	l.stopTimer()

	start := time.Now()
	docs, err := l.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	next, err := l.builder.Build(ctx, docs, l.current.Load().Version()+1)
	if err != nil {
		l.logger.Error("corpus rebuild failed", zap.Error(err))
		return nil, err
	}
	prev := l.current.Swap(next)
	l.retire(prev)
	l.logger.Info("corpus snapshot swapped",
		zap.Uint64("version", next.Version()),
		zap.Int("documents", next.DocumentCount()),
		zap.Int("chunks", next.ChunkCount()),
		zap.Duration("took", time.Since(start)))
	if l.onSwap != nil {
		l.onSwap(next)
	}
	return next, nil
}

func (l *Library) retire(s *Snapshot) {
	if s == nil || (s.lexical == nil && s.dense == nil) {
		return
	}
	release := func() {
		if err := s.close(); err != nil {
			l.logger.Warn("failed to close retired corpus snapshot",
				zap.Uint64("version", s.Version()), zap.Error(err))
		}
	}
	if l.retireAfter <= 0 {
		release()
		return
	}
	time.AfterFunc(l.retireAfter, release)
}

// ScheduleRebuild queues a debounced rebuild. Each call restarts the delay.
func (l *Library) ScheduleRebuild() {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	if l.closed {
		return
	}
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(l.debounce, func() {
		if _, err := l.Rebuild(context.Background()); err != nil {
			l.logger.Warn("scheduled corpus rebuild failed", zap.Error(err))
		}
	})
}

func (l *Library) stopTimer() {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Library) changed(ctx context.Context) error {
	if l.debounce <= 0 {
		_, err := l.Rebuild(ctx)
		return err
	}
	l.ScheduleRebuild()
	return nil
}

// PutDocument stores doc and rebuilds.
func (l *Library) PutDocument(ctx context.Context, doc *models.Document) error {
	if err := l.store.PutDocument(ctx, doc); err != nil {
		return err
	}
	return l.changed(ctx)
}

// GetDocument returns a stored document.
func (l *Library) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	return l.store.GetDocument(ctx, id)
}

// DeleteDocument removes a document and rebuilds.
func (l *Library) DeleteDocument(ctx context.Context, id string) error {
	if err := l.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	return l.changed(ctx)
}

// ListDocuments returns every stored document.
func (l *Library) ListDocuments(ctx context.Context) ([]*models.Document, error) {
	return l.store.ListDocuments(ctx)
}

// Close cancels any pending rebuild. Snapshots stay readable.
func (l *Library) Close() {
	l.timerMu.Lock()
	defer l.timerMu.Unlock()
	l.closed = true
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}
