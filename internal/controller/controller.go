// internal/controller/controller.go
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djbob2000/linked-clicker-sub000/api/schemas"
	"github.com/djbob2000/linked-clicker-sub000/internal/config"
	"github.com/djbob2000/linked-clicker-sub000/internal/navigation"
	"github.com/djbob2000/linked-clicker-sub000/internal/processing"
	"github.com/djbob2000/linked-clicker-sub000/internal/resilience"
	"github.com/djbob2000/linked-clicker-sub000/internal/session"
)

// ErrAlreadyRunning is returned by Start while a run is in flight. The browser
// session is not safely shareable, so concurrent runs are rejected rather than
// interleaved.
var ErrAlreadyRunning = errors.New("automation is already running")

// Authenticator is the login stage.
type Authenticator interface {
	Authenticate(ctx context.Context) error
}

// Navigator is the stage that opens the growable list.
type Navigator interface {
	NavigateToTarget(ctx context.Context) error
}

// Processor is the item processing stage.
type Processor interface {
	ProcessItems(ctx context.Context, minMetric, target int) schemas.ProcessingResult
}

// DriverFactory lazily creates the browser session for a run.
type DriverFactory func(ctx context.Context) (schemas.Driver, error)

// StageFactory assembles the three workflow stages around a run's driver.
type StageFactory func(driver schemas.Driver, cfg *config.Config, logger *zap.Logger, progress processing.ProgressFunc) (Authenticator, Navigator, Processor)

// DefaultStages wires the production handlers.
func DefaultStages(driver schemas.Driver, cfg *config.Config, logger *zap.Logger, progress processing.ProgressFunc) (Authenticator, Navigator, Processor) {
	return session.NewHandler(driver, cfg, logger),
		navigation.NewHandler(driver, cfg, logger),
		processing.NewEngine(driver, cfg, logger, progress)
}

// Controller is the workflow state machine sequencing
// authenticate → navigate → process over one exclusively owned browser
// session. It owns the RunStatus; callers only ever see snapshots.
type Controller struct {
	cfg       *config.Config
	logger    *zap.Logger
	newDriver DriverFactory
	stages    StageFactory

	mu        sync.Mutex
	status    schemas.RunStatus
	scope     *resilience.Scope
	runCtx    *RunContext
	cancelRun context.CancelFunc

	observers    map[int]func(schemas.RunStatus)
	nextObserver int
}

// New builds a controller. stages may be nil to use the production handlers.
func New(cfg *config.Config, logger *zap.Logger, newDriver DriverFactory, stages StageFactory) *Controller {
	if stages == nil {
		stages = DefaultStages
	}
	return &Controller{
		cfg:       cfg,
		logger:    logger.Named("controller"),
		newDriver: newDriver,
		stages:    stages,
		status:    schemas.RunStatus{CurrentStep: schemas.StepIdle},
		runCtx:    NewRunContext(),
		observers: make(map[int]func(schemas.RunStatus)),
	}
}

// Start validates configuration, opens the browser session and runs the
// workflow to completion. It blocks for the duration of the run and always
// releases the session before returning, whatever the outcome. A second Start
// while running is rejected with ErrAlreadyRunning.
func (c *Controller) Start(ctx context.Context) (schemas.RunStatus, error) {
	c.mu.Lock()
	if c.status.IsRunning {
		c.mu.Unlock()
		return c.snapshotLocked(), ErrAlreadyRunning
	}

	runID := uuid.New().String()
	now := time.Now()
	c.status = schemas.RunStatus{
		RunID:       runID,
		IsRunning:   true,
		CurrentStep: schemas.StepIdle,
		ItemLimit:   uint(c.cfg.Processing.MaxConnections),
		StartTime:   &now,
	}
	c.scope = resilience.NewScope(c.logger, c.cfg.Network.CleanupTimeout)
	c.runCtx.Reset()
	c.runCtx.Set("run_id", runID)

	runnable, cancel := context.WithCancel(ctx)
	c.cancelRun = cancel
	scope := c.scope
	c.mu.Unlock()

	defer cancel()
	c.notify()

	log := c.logger.With(zap.String("run_id", runID))
	log.Info("Automation run starting.")

	err := c.run(runnable, log, scope)

	// Cleanup always runs, whether the run completed, failed at any stage or
	// was canceled by Stop. The scope guarantees exactly one pass.
	scope.Cleanup(context.Background())
	c.finish(err)

	status := c.Status()
	if err != nil {
		log.Error("Automation run failed.", zap.Error(err))
		return status, err
	}
	log.Info("Automation run finished.",
		zap.Uint("processed", status.ItemsProcessed),
		zap.Uint("succeeded", status.ItemsSucceeded))
	return status, nil
}

// run executes the strictly sequential stage pipeline.
func (c *Controller) run(ctx context.Context, log *zap.Logger, scope *resilience.Scope) error {
	if err := c.validate(); err != nil {
		return err
	}

	driver, err := c.newDriver(ctx)
	if err != nil {
		return schemas.WrapError(schemas.KindDriver, "failed to initialize browser session", err)
	}
	scope.Register("browser session", driver.Close)

	auth, nav, proc := c.stages(driver, c.cfg, log, func(processed, succeeded uint) {
		c.updateStatus(func(s *schemas.RunStatus) {
			s.ItemsProcessed = processed
			s.ItemsSucceeded = succeeded
		})
	})

	c.setStep(schemas.StepAuthenticating)
	c.runCtx.Set("step", string(schemas.StepAuthenticating))
	if err := auth.Authenticate(ctx); err != nil {
		return c.annotate(err)
	}

	c.setStep(schemas.StepNavigating)
	c.runCtx.Set("step", string(schemas.StepNavigating))
	if err := nav.NavigateToTarget(ctx); err != nil {
		return c.annotate(err)
	}

	c.setStep(schemas.StepProcessing)
	c.runCtx.Set("step", string(schemas.StepProcessing))
	result := proc.ProcessItems(ctx,
		c.cfg.Processing.MinMutualConnections,
		c.cfg.Processing.MaxConnections)
	c.updateStatus(func(s *schemas.RunStatus) {
		s.ItemsProcessed = result.ItemsProcessed
		s.ItemsSucceeded = result.ItemsSucceeded
	})
	if !result.Success {
		return c.annotate(schemas.NewError(schemas.KindDriver, result.Error))
	}
	if len(result.PartialFailures) > 0 {
		log.Warn("Run completed with skipped items.",
			zap.Strings("partial_failures", result.PartialFailures))
	}

	c.setStep(schemas.StepCompleted)
	return nil
}

// validate fails fast on configuration problems before any browser
// interaction happens.
func (c *Controller) validate() error {
	if err := c.cfg.Validate(); err != nil {
		return schemas.WrapError(schemas.KindConfiguration, "invalid configuration", err)
	}
	if !c.cfg.Credentials.Present() {
		return schemas.NewError(schemas.KindConfiguration,
			"credentials are not configured; set LINKEDCLICKER_USERNAME and LINKEDCLICKER_PASSWORD")
	}
	return nil
}

// annotate attaches the run's diagnostic context to a typed stage error.
func (c *Controller) annotate(err error) error {
	var typed *schemas.Error
	if errors.As(err, &typed) {
		for k, v := range c.runCtx.Snapshot() {
			typed.WithContext(k, v)
		}
	}
	return err
}

// Stop cancels the in-flight run cooperatively and releases the session: the
// loops observe the canceled context on their next check, and the scope's
// exactly-once cleanup closes the driver whether Stop or Start's exit path
// reaches it first. Idempotent and safe to call when nothing is running.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancelRun
	scope := c.scope
	running := c.status.IsRunning
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if scope != nil {
		// The scope runs its cleanups exactly once, so this either releases
		// leftover resources now or waits out the in-flight run's own pass.
		scope.Cleanup(context.Background())
	}
	c.logger.Debug("Stop requested.", zap.Bool("was_running", running))
}

// finish records the terminal state of the run.
func (c *Controller) finish(err error) {
	c.updateStatus(func(s *schemas.RunStatus) {
		now := time.Now()
		s.IsRunning = false
		s.EndTime = &now
		if err != nil {
			s.CurrentStep = schemas.StepError
			s.LastError = err.Error()
		}
	})
}

// Status returns a read-only snapshot of the run status.
func (c *Controller) Status() schemas.RunStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() schemas.RunStatus {
	snapshot := c.status
	if c.status.StartTime != nil {
		t := *c.status.StartTime
		snapshot.StartTime = &t
	}
	if c.status.EndTime != nil {
		t := *c.status.EndTime
		snapshot.EndTime = &t
	}
	return snapshot
}

// OnStatusChange registers an observer invoked synchronously on every status
// mutation. The returned function unsubscribes. A panicking observer never
// blocks notification of the others.
func (c *Controller) OnStatusChange(cb func(schemas.RunStatus)) func() {
	c.mu.Lock()
	id := c.nextObserver
	c.nextObserver++
	c.observers[id] = cb
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, id)
		c.mu.Unlock()
	}
}

func (c *Controller) setStep(step schemas.Step) {
	c.updateStatus(func(s *schemas.RunStatus) { s.CurrentStep = step })
}

// updateStatus is the single mutation point for the run status.
func (c *Controller) updateStatus(mutate func(*schemas.RunStatus)) {
	c.mu.Lock()
	mutate(&c.status)
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) notify() {
	c.mu.Lock()
	snapshot := c.snapshotLocked()
	callbacks := make([]func(schemas.RunStatus), 0, len(c.observers))
	for _, cb := range c.observers {
		callbacks = append(callbacks, cb)
	}
	c.mu.Unlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Warn("Status observer panicked.", zap.Any("panic", r))
				}
			}()
			cb(snapshot)
		}()
	}
}
