package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ReconcileProcessorConfig holds configuration for the reconcile processor
type ReconcileProcessorConfig struct {
	// Interval is how often every fiscal year is reconciled (default: 15m)
	Interval time.Duration

	// VerifyOnly reports drift without repairing it (default: false)
	VerifyOnly bool

	// RunOnStart runs a pass as soon as the processor starts (default: true)
	RunOnStart bool
}

// DefaultReconcileProcessorConfig returns sensible defaults
func DefaultReconcileProcessorConfig() ReconcileProcessorConfig {
	return ReconcileProcessorConfig{
		Interval:   15 * time.Minute,
		RunOnStart: true,
	}
}

// reconcileRunner is the part of Reconciler the processor drives.
type reconcileRunner interface {
	ReconcileAll(ctx context.Context) ([]ReconcileReport, error)
	VerifyAll(ctx context.Context) error
}

// ReconcileProcessor periodically reconciles every fiscal year, healing
// trees left inconsistent by a crash or a failed cascade.
type ReconcileProcessor struct {
	runner reconcileRunner
	config ReconcileProcessorConfig

	// Lifecycle management
	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	stopOnce *sync.Once
	doneCh   chan struct{}
	runs     int
}

func NewReconcileProcessor(runner reconcileRunner, config ReconcileProcessorConfig) *ReconcileProcessor {
	if config.Interval <= 0 {
		config.Interval = DefaultReconcileProcessorConfig().Interval
	}
	return &ReconcileProcessor{
		runner: runner,
		config: config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *ReconcileProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("reconcile processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.stopOnce = &sync.Once{}
	p.doneCh = make(chan struct{})
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	go p.runLoop(ctx, stopCh, doneCh)

	slog.InfoContext(ctx, "Reconcile processor started",
		"interval", p.config.Interval,
		"verify_only", p.config.VerifyOnly,
		"run_on_start", p.config.RunOnStart)

	return nil
}

// Stop gracefully stops the processor and waits for the current pass.
func (p *ReconcileProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stopCh, stopOnce, doneCh := p.stopCh, p.stopOnce, p.doneCh
	p.mu.Unlock()

	stopOnce.Do(func() { close(stopCh) })

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Reconcile processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Reconcile processor stop timed out")
		return ctx.Err()
	}
	return nil
}

func (p *ReconcileProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Runs returns how many passes have completed.
func (p *ReconcileProcessor) Runs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs
}

// runLoop clears the running flag on exit, whether stopped or cancelled.
func (p *ReconcileProcessor) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		close(doneCh)
	}()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	if p.config.RunOnStart {
		p.runOnce(ctx)
	}

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *ReconcileProcessor) runOnce(ctx context.Context) {
	defer func() {
		p.mu.Lock()
		p.runs++
		p.mu.Unlock()
	}()

	if p.config.VerifyOnly {
		if err := p.runner.VerifyAll(ctx); err != nil {
			slog.WarnContext(ctx, "Verification found inconsistent fiscal years", "error", err)
		}
		return
	}

	reports, err := p.runner.ReconcileAll(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Reconcile pass failed", "error", err)
	}
	repaired := 0
	for _, r := range reports {
		if r.Writes > 0 {
			repaired++
		}
	}
	slog.InfoContext(ctx, "Reconcile pass completed",
		"fiscal_years", len(reports),
		"repaired", repaired)
}
