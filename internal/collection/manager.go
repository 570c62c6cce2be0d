package collection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ReceiptSink receives confirmed collections, e.g. to journal them asynchronously.
type ReceiptSink interface {
	EnqueueReceipt(ctx context.Context, receipt Receipt) error
}

// ManagerConfig carries the defaults applied to every workflow.
type ManagerConfig struct {
	PendingLimit   int
	AutoUpload     bool
	AutoCloseAfter time.Duration
	UploadTimeout  time.Duration
	Location       *time.Location
	Now            func() time.Time
	AfterFunc      AfterFunc
}

// Owner identifies the collector a workflow belongs to.
type Owner struct {
	UserID        string
	DistributorID string
}

// Manager keeps the live workflows of all collectors.
type Manager struct {
	mu        sync.Mutex
	workflows map[string]*Workflow

	deps    Deps
	cfg     ManagerConfig
	sink    ReceiptSink
	logger  *slog.Logger
	metrics *Metrics
}

// NewManager builds a Manager. sink and metrics may be nil.
func NewManager(deps Deps, cfg ManagerConfig, sink ReceiptSink, logger *slog.Logger, metrics *Metrics) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		workflows: make(map[string]*Workflow),
		deps:      deps,
		cfg:       cfg,
		sink:      sink,
		logger:    logger,
		metrics:   metrics,
	}
}

// Start creates and starts a workflow for owner. A failed invoice fetch does not
// fail Start; the error is carried on the SelectingInvoice state.
func (m *Manager) Start(ctx context.Context, owner Owner, preselected *Invoice) (*Workflow, error) {
	id := uuid.NewString()
	w := New(m.deps, Options{
		ID:             id,
		CollectorID:    owner.UserID,
		DistributorID:  owner.DistributorID,
		PendingLimit:   m.cfg.PendingLimit,
		Preselected:    preselected,
		AutoUpload:     m.cfg.AutoUpload,
		AutoCloseAfter: m.cfg.AutoCloseAfter,
		UploadTimeout:  m.cfg.UploadTimeout,
		Location:       m.cfg.Location,
		Now:            m.cfg.Now,
		AfterFunc:      m.cfg.AfterFunc,
		Logger:         m.logger,
		Metrics:        m.metrics,
		Hooks: Hooks{
			OnSuccess: func(message string, receipt Receipt) {
				m.onSuccess(id, message, receipt)
			},
			OnClose: func() {
				m.remove(id)
			},
		},
	})

	m.mu.Lock()
	m.workflows[id] = w
	m.mu.Unlock()
	m.metrics.workflowOpened()

	if err := w.Start(ctx); err != nil {
		var netErr *NetworkError
		if !errors.As(err, &netErr) {
			_ = w.Close(ctx)
			return nil, err
		}
	}
	m.logger.Info("collection started", slog.String("workflow_id", id), slog.String("collector_id", owner.UserID))
	return w, nil
}

// Get returns the workflow id owned by owner.
func (m *Manager) Get(id string, owner Owner) (*Workflow, error) {
	m.mu.Lock()
	w, ok := m.workflows[id]
	m.mu.Unlock()
	if !ok || w.CollectorID() != owner.UserID {
		return nil, ErrWorkflowNotFound
	}
	return w, nil
}

// Len returns the number of live workflows.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workflows)
}

// Reap closes workflows that have been idle for longer than idle and returns how
// many were closed.
func (m *Manager) Reap(ctx context.Context, idle time.Duration) int {
	cutoff := m.cfg.Now().Add(-idle)
	m.mu.Lock()
	var stale []*Workflow
	for _, w := range m.workflows {
		if w.IdleSince().Before(cutoff) {
			stale = append(stale, w)
		}
	}
	m.mu.Unlock()

	for _, w := range stale {
		_ = w.Close(ctx)
	}
	if len(stale) > 0 {
		m.logger.Info("reaped idle collections", slog.Int("count", len(stale)))
	}
	return len(stale)
}

// Shutdown closes every live workflow.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Workflow, 0, len(m.workflows))
	for _, w := range m.workflows {
		all = append(all, w)
	}
	m.mu.Unlock()
	for _, w := range all {
		_ = w.Close(ctx)
	}
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	_, ok := m.workflows[id]
	delete(m.workflows, id)
	m.mu.Unlock()
	if ok {
		m.metrics.workflowClosed()
	}
}

func (m *Manager) onSuccess(id, message string, receipt Receipt) {
	m.logger.Info("collection confirmed",
		slog.String("workflow_id", id),
		slog.String("receipt_id", receipt.ID),
		slog.String("message", message))
	if m.sink == nil {
		return
	}
	if err := m.sink.EnqueueReceipt(context.Background(), receipt); err != nil {
		m.logger.Error("enqueue receipt", slog.String("receipt_id", receipt.ID), slog.Any("error", err))
	}
}
