// internal/controller/controller_test.go
package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/djbob2000/linked-clicker-sub000/api/schemas"
	"github.com/djbob2000/linked-clicker-sub000/internal/browsertest"
	"github.com/djbob2000/linked-clicker-sub000/internal/config"
	"github.com/djbob2000/linked-clicker-sub000/internal/processing"
)

// stubStages scripts the three workflow stages independently.
type stubStages struct {
	mu sync.Mutex

	authErr error
	navErr  error
	result  schemas.ProcessingResult

	authCalls int
	navCalls  int
	procCalls int

	// block parks ProcessItems until the context is canceled.
	block   bool
	entered chan struct{}
}

func (s *stubStages) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authCalls++
	return s.authErr
}

func (s *stubStages) NavigateToTarget(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navCalls++
	return s.navErr
}

func (s *stubStages) ProcessItems(ctx context.Context, minMetric, target int) schemas.ProcessingResult {
	s.mu.Lock()
	s.procCalls++
	block := s.block
	entered := s.entered
	s.mu.Unlock()
	if block {
		if entered != nil {
			close(entered)
		}
		<-ctx.Done()
		return schemas.ProcessingResult{Success: false, Error: ctx.Err().Error()}
	}
	return s.result
}

func (s *stubStages) factory() StageFactory {
	return func(driver schemas.Driver, cfg *config.Config, logger *zap.Logger, progress processing.ProgressFunc) (Authenticator, Navigator, Processor) {
		return s, s, s
	}
}

func testConfig() *config.Config {
	cfg := config.NewDefault()
	cfg.Credentials = config.CredentialsConfig{Username: "user@example.test", Password: "hunter2"}
	cfg.Processing.MaxConnections = 5
	return cfg
}

func newController(t *testing.T, cfg *config.Config, fake *browsertest.Fake, stages *stubStages) *Controller {
	t.Helper()
	factory := func(ctx context.Context) (schemas.Driver, error) { return fake, nil }
	return New(cfg, zaptest.NewLogger(t), factory, stages.factory())
}

func TestStart_SuccessfulRun(t *testing.T) {
	t.Parallel()
	fake := browsertest.New()
	stages := &stubStages{result: schemas.ProcessingResult{
		Success:        true,
		ItemsProcessed: 7,
		ItemsSucceeded: 5,
	}}
	c := newController(t, testConfig(), fake, stages)

	status, err := c.Start(context.Background())

	require.NoError(t, err)
	assert.Equal(t, schemas.StepCompleted, status.CurrentStep)
	assert.False(t, status.IsRunning)
	assert.NotEmpty(t, status.RunID)
	assert.Equal(t, uint(7), status.ItemsProcessed)
	assert.Equal(t, uint(5), status.ItemsSucceeded)
	assert.Equal(t, uint(5), status.ItemLimit)
	require.NotNil(t, status.StartTime)
	require.NotNil(t, status.EndTime)
	assert.Equal(t, 1, fake.CloseCount, "the browser session is released exactly once")
}

func TestStart_AuthFailurePreventsLaterStages(t *testing.T) {
	t.Parallel()
	fake := browsertest.New()
	stages := &stubStages{authErr: schemas.NewError(schemas.KindSession, "credentials rejected")}
	c := newController(t, testConfig(), fake, stages)

	status, err := c.Start(context.Background())

	require.Error(t, err)
	assert.Equal(t, schemas.KindSession, schemas.KindOf(err))
	assert.Equal(t, 1, stages.authCalls)
	assert.Zero(t, stages.navCalls, "a failed login must not reach navigation")
	assert.Zero(t, stages.procCalls, "a failed login must not reach processing")
	assert.Equal(t, schemas.StepError, status.CurrentStep)
	assert.NotEmpty(t, status.LastError)
	assert.Equal(t, 1, fake.CloseCount, "the session is released even on early failure")
}

func TestStart_NavigationFailureSkipsProcessing(t *testing.T) {
	t.Parallel()
	fake := browsertest.New()
	stages := &stubStages{navErr: schemas.NewError(schemas.KindNavigation, "list never appeared")}
	c := newController(t, testConfig(), fake, stages)

	_, err := c.Start(context.Background())

	require.Error(t, err)
	assert.Equal(t, 1, stages.authCalls)
	assert.Equal(t, 1, stages.navCalls)
	assert.Zero(t, stages.procCalls)
	assert.Equal(t, 1, fake.CloseCount)
}

func TestStart_InvalidConfigurationFailsBeforeDriver(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Processing.MaxConnections = 0
	driverCalls := 0
	factory := func(ctx context.Context) (schemas.Driver, error) {
		driverCalls++
		return browsertest.New(), nil
	}
	stages := &stubStages{}
	c := New(cfg, zaptest.NewLogger(t), factory, stages.factory())

	_, err := c.Start(context.Background())

	require.Error(t, err)
	assert.Equal(t, schemas.KindConfiguration, schemas.KindOf(err))
	assert.Zero(t, driverCalls, "validation failures must not open a browser")
}

func TestStart_MissingCredentialsFailsBeforeDriver(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Credentials = config.CredentialsConfig{}
	stages := &stubStages{}
	fake := browsertest.New()
	c := newController(t, cfg, fake, stages)

	_, err := c.Start(context.Background())

	require.Error(t, err)
	assert.Equal(t, schemas.KindConfiguration, schemas.KindOf(err))
	assert.Zero(t, fake.CloseCount)
}

func TestStart_DriverFactoryFailure(t *testing.T) {
	t.Parallel()
	stages := &stubStages{}
	factory := func(ctx context.Context) (schemas.Driver, error) {
		return nil, errors.New("chrome binary not found")
	}
	c := New(testConfig(), zaptest.NewLogger(t), factory, stages.factory())

	status, err := c.Start(context.Background())

	require.Error(t, err)
	assert.Equal(t, schemas.KindDriver, schemas.KindOf(err))
	assert.Zero(t, stages.authCalls)
	assert.Equal(t, schemas.StepError, status.CurrentStep)
}

func TestStart_RejectsConcurrentRun(t *testing.T) {
	t.Parallel()
	fake := browsertest.New()
	stages := &stubStages{block: true, entered: make(chan struct{})}
	c := newController(t, testConfig(), fake, stages)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = c.Start(ctx)
	}()
	<-stages.entered

	_, err := c.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	cancel()
	select {
	case <-firstDone:
	case <-time.After(2 * time.Second):
		t.Fatal("first run never finished after cancellation")
	}
}

func TestStop_CancelsInFlightRunAndReleasesSession(t *testing.T) {
	t.Parallel()
	fake := browsertest.New()
	stages := &stubStages{block: true, entered: make(chan struct{})}
	c := newController(t, testConfig(), fake, stages)

	done := make(chan error, 1)
	go func() {
		_, err := c.Start(context.Background())
		done <- err
	}()
	<-stages.entered

	c.Stop()
	assert.Equal(t, 1, fake.CloseCount,
		"the session must already be released when Stop returns")

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop cooperatively")
	}
	assert.Equal(t, 1, fake.CloseCount)
	assert.False(t, c.Status().IsRunning)

	// Stop is idempotent.
	c.Stop()
	assert.Equal(t, 1, fake.CloseCount)
}

func TestStart_SequentialRunsGetFreshState(t *testing.T) {
	t.Parallel()
	fake := browsertest.New()
	stages := &stubStages{result: schemas.ProcessingResult{Success: true, ItemsProcessed: 2, ItemsSucceeded: 1}}
	c := newController(t, testConfig(), fake, stages)

	first, err := c.Start(context.Background())
	require.NoError(t, err)
	second, err := c.Start(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 2, fake.CloseCount, "each run releases its own session")
	assert.Equal(t, 2, stages.authCalls)
}

func TestStart_ProcessingFailureSurfacesInStatus(t *testing.T) {
	t.Parallel()
	fake := browsertest.New()
	stages := &stubStages{result: schemas.ProcessingResult{
		Success:        false,
		ItemsProcessed: 3,
		ItemsSucceeded: 1,
		Error:          "scroll container detached",
	}}
	c := newController(t, testConfig(), fake, stages)

	status, err := c.Start(context.Background())

	require.Error(t, err)
	assert.Equal(t, schemas.StepError, status.CurrentStep)
	assert.Contains(t, status.LastError, "scroll container detached")
	// Partial progress is preserved in the final status.
	assert.Equal(t, uint(3), status.ItemsProcessed)
	assert.Equal(t, uint(1), status.ItemsSucceeded)
	assert.Equal(t, 1, fake.CloseCount)
}

func TestOnStatusChange_ObserversSeeTheStepSequence(t *testing.T) {
	t.Parallel()
	fake := browsertest.New()
	stages := &stubStages{result: schemas.ProcessingResult{Success: true}}
	c := newController(t, testConfig(), fake, stages)

	var mu sync.Mutex
	var steps []schemas.Step
	unsubscribe := c.OnStatusChange(func(s schemas.RunStatus) {
		mu.Lock()
		defer mu.Unlock()
		if len(steps) == 0 || steps[len(steps)-1] != s.CurrentStep {
			steps = append(steps, s.CurrentStep)
		}
	})
	defer unsubscribe()

	_, err := c.Start(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []schemas.Step{
		schemas.StepIdle,
		schemas.StepAuthenticating,
		schemas.StepNavigating,
		schemas.StepProcessing,
		schemas.StepCompleted,
	}, steps)
}

func TestOnStatusChange_PanickingObserverDoesNotBreakOthers(t *testing.T) {
	t.Parallel()
	fake := browsertest.New()
	stages := &stubStages{result: schemas.ProcessingResult{Success: true}}
	c := newController(t, testConfig(), fake, stages)

	c.OnStatusChange(func(s schemas.RunStatus) { panic("observer bug") })
	notified := 0
	c.OnStatusChange(func(s schemas.RunStatus) { notified++ })

	_, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.Positive(t, notified)
}

func TestOnStatusChange_UnsubscribeStopsNotifications(t *testing.T) {
	t.Parallel()
	fake := browsertest.New()
	stages := &stubStages{result: schemas.ProcessingResult{Success: true}}
	c := newController(t, testConfig(), fake, stages)

	calls := 0
	unsubscribe := c.OnStatusChange(func(s schemas.RunStatus) { calls++ })
	unsubscribe()

	_, err := c.Start(context.Background())
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestStatus_SnapshotIsolation(t *testing.T) {
	t.Parallel()
	fake := browsertest.New()
	stages := &stubStages{result: schemas.ProcessingResult{Success: true}}
	c := newController(t, testConfig(), fake, stages)

	_, err := c.Start(context.Background())
	require.NoError(t, err)

	snapshot := c.Status()
	*snapshot.StartTime = time.Time{}
	snapshot.CurrentStep = schemas.StepError

	fresh := c.Status()
	assert.Equal(t, schemas.StepCompleted, fresh.CurrentStep)
	assert.False(t, fresh.StartTime.IsZero(), "mutating a snapshot must not touch controller state")
}

func TestStop_WhenIdleIsHarmless(t *testing.T) {
	t.Parallel()
	fake := browsertest.New()
	stages := &stubStages{}
	c := newController(t, testConfig(), fake, stages)

	c.Stop()
	assert.False(t, c.Status().IsRunning)
	assert.Zero(t, fake.CloseCount)
}
