// internal/processing/engine.go
package processing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/djbob2000/linked-clicker-sub000/api/schemas"
	"github.com/djbob2000/linked-clicker-sub000/internal/config"
	"github.com/djbob2000/linked-clicker-sub000/internal/resilience"
)

// ProgressFunc receives live counters after every admitted item.
type ProgressFunc func(processed, succeeded uint)

// Engine discovers candidate items in the growable list, deduplicates them
// across reloads, decides eligibility and performs the rate-limited per-item
// action while incrementally expanding the list.
type Engine struct {
	driver   schemas.Driver
	cfg      *config.Config
	logger   *zap.Logger
	limiter  *rate.Limiter
	progress ProgressFunc
}

// NewEngine builds the processing engine. progress may be nil.
func NewEngine(driver schemas.Driver, cfg *config.Config, logger *zap.Logger, progress ProgressFunc) *Engine {
	var limiter *rate.Limiter
	if cfg.Processing.ActionDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Processing.ActionDelay), 1)
	} else {
		limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return &Engine{
		driver:   driver,
		cfg:      cfg,
		logger:   logger.Named("processing"),
		limiter:  limiter,
		progress: progress,
	}
}

// ProcessItems runs the discovery/act/grow loop until the target count is
// reached, the list stops growing, or the bounded scroll attempts run out.
// Per-item failures degrade to PartialFailures; only discovery and growth
// errors (or a critical item error) abort the call.
func (e *Engine) ProcessItems(ctx context.Context, minMetric, target int) schemas.ProcessingResult {
	var result schemas.ProcessingResult
	seen := make(map[string]struct{})
	scrollAttempts := 0

	e.logger.Info("Starting item processing.",
		zap.Int("min_metric", minMetric), zap.Int("target", target))

	for result.ItemsSucceeded < uint(target) && scrollAttempts < e.cfg.Processing.MaxScrollAttempts {
		if err := ctx.Err(); err != nil {
			return e.abort(result, schemas.WrapError(schemas.KindDriver, "processing canceled", err))
		}

		container, err := e.driver.Locate(ctx, e.cfg.Target.ListContainer)
		if err != nil {
			return e.abort(result, schemas.WrapError(schemas.KindDriver, "discovering list container", err))
		}
		if container == nil {
			// List gone: no more content, normal termination.
			e.logger.Info("List container no longer present, stopping.")
			break
		}

		items, err := e.driver.LocateAllIn(ctx, container, e.cfg.Target.ItemSelector)
		if err != nil {
			return e.abort(result, schemas.WrapError(schemas.KindDriver, "discovering items", err))
		}

		aborted, abortErr := e.processBatch(ctx, items, seen, minMetric, target, &result)
		if aborted {
			return e.abort(result, abortErr)
		}
		if result.ItemsSucceeded >= uint(target) {
			break
		}

		grown, err := e.growList(ctx, container, len(items))
		if err != nil {
			return e.abort(result, err)
		}
		if !grown {
			e.logger.Info("List growth stalled, stopping.",
				zap.Int("scroll_attempts", scrollAttempts))
			break
		}
		scrollAttempts++
	}

	result.Success = true
	e.logger.Info("Item processing finished.",
		zap.Uint("processed", result.ItemsProcessed),
		zap.Uint("succeeded", result.ItemsSucceeded),
		zap.Int("partial_failures", len(result.PartialFailures)))
	return result
}

// processBatch walks one discovery pass in DOM order. Returns aborted=true
// only for critical failures.
func (e *Engine) processBatch(
	ctx context.Context,
	items []schemas.ElementRef,
	seen map[string]struct{},
	minMetric, target int,
	result *schemas.ProcessingResult,
) (bool, error) {
	for idx, handle := range items {
		if err := ctx.Err(); err != nil {
			return true, schemas.WrapError(schemas.KindDriver, "batch canceled", err)
		}
		if result.ItemsSucceeded >= uint(target) {
			return false, nil
		}

		name := e.itemName(ctx, handle)
		id := deriveID(name, idx)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		result.ItemsProcessed++
		e.report(result)

		item := schemas.CandidateItem{ID: id, DisplayName: name, Handle: handle}
		acted, err := e.processOne(ctx, item, minMetric, result)
		if err != nil {
			return true, err
		}
		if acted {
			result.ItemsSucceeded++
			e.report(result)
		}
	}
	return false, nil
}

// processOne runs eligibility-then-act for a single item under graceful
// degradation: the fallback skips the item and records a partial failure.
// Critical errors refuse the fallback and abort the batch.
func (e *Engine) processOne(
	ctx context.Context,
	item schemas.CandidateItem,
	minMetric int,
	result *schemas.ProcessingResult,
) (bool, error) {
	itemPolicy := resilience.Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Second,
		MaxDelay:    3 * time.Second,
		Multiplier:  2.0,
		// Only interaction-class failures (click/timeout) are worth a second
		// attempt on the same item.
		Retryable: func(err error) bool {
			kind := schemas.KindOf(err)
			return (kind == schemas.KindItemAction || kind == schemas.KindDriver) &&
				schemas.IsRecoverable(err)
		},
	}

	var lastErr error
	return resilience.WithFallback(ctx,
		func(ctx context.Context) (bool, error) {
			outcome := resilience.Retry(ctx, e.logger, itemPolicy, func(ctx context.Context) (bool, error) {
				return e.evaluateAndAct(ctx, item, minMetric)
			})
			if !outcome.Succeeded {
				lastErr = outcome.Err
				return false, outcome.Err
			}
			return outcome.Value, nil
		},
		func(ctx context.Context) (bool, error) {
			failure := fmt.Sprintf("%s: %v", item.DisplayName, lastErr)
			result.PartialFailures = append(result.PartialFailures, failure)
			e.logger.Warn("Skipping item after failure.",
				zap.String("item", item.DisplayName), zap.Error(lastErr))
			return false, nil
		},
		func(err error) bool { return !schemas.IsCritical(err) },
	)
}

// evaluateAndAct parses the item's metric, checks the action affordance and
// performs the click. Returns (false, nil) for ineligible items.
func (e *Engine) evaluateAndAct(ctx context.Context, item schemas.CandidateItem, minMetric int) (bool, error) {
	text, err := e.driver.TextContent(ctx, item.Handle)
	if err != nil {
		return false, schemas.WrapError(schemas.KindItemAction, "reading item text", err)
	}
	metric := ParseMutualCount(text)
	if metric < minMetric {
		e.logger.Debug("Item below eligibility threshold.",
			zap.String("item", item.DisplayName), zap.Int("metric", metric))
		return false, nil
	}

	button, err := e.driver.LocateIn(ctx, item.Handle, e.cfg.Target.ActionButton)
	if err != nil {
		return false, schemas.WrapError(schemas.KindItemAction, "looking up action button", err)
	}
	if button == nil {
		return false, nil
	}
	if visible, err := e.driver.IsVisible(ctx, button); err != nil || !visible {
		return false, nil
	}
	if enabled, err := e.driver.IsEnabled(ctx, button); err != nil || !enabled {
		return false, nil
	}

	if err := e.driver.Click(ctx, button); err != nil {
		return false, schemas.WrapError(schemas.KindItemAction, "clicking action button", err)
	}

	// Some flows interpose a confirmation dialog; its absence is not an error.
	e.confirmIfPresent(ctx)

	e.logger.Info("Acted on item.",
		zap.String("item", item.DisplayName), zap.Int("metric", metric))

	// The deliberate inter-action delay. Rapid consecutive actions are the
	// most likely trigger of the target's anti-automation defenses. The action
	// itself already happened, so a cancellation here only cuts the pause
	// short; the item still counts.
	if err := e.limiter.Wait(ctx); err != nil {
		e.logger.Debug("Inter-action delay interrupted.", zap.Error(err))
	}
	return true, nil
}

// confirmIfPresent waits briefly for a confirmation dialog and activates it
// when it shows up.
func (e *Engine) confirmIfPresent(ctx context.Context) {
	if e.cfg.Target.ConfirmSelector == "" {
		return
	}
	wait(ctx, e.cfg.Processing.ConfirmWait)

	confirm, err := e.driver.Locate(ctx, e.cfg.Target.ConfirmSelector)
	if err != nil || confirm == nil {
		return
	}
	if visible, _ := e.driver.IsVisible(ctx, confirm); !visible {
		return
	}
	if err := e.driver.Click(ctx, confirm); err != nil {
		e.logger.Debug("Confirmation click failed, continuing.", zap.Error(err))
	}
}

// growList advances the container's scrollable ancestor by one viewport.
// The ancestor is re-resolved on every call rather than cached: the handle
// from the previous iteration may have detached when the DOM re-rendered.
// Growth only counts when new items actually appeared; offset movement alone
// proves nothing on layouts that reposition the same items.
func (e *Engine) growList(ctx context.Context, container schemas.ElementRef, before int) (bool, error) {
	parent, err := e.driver.ScrollParent(ctx, container)
	if err != nil {
		return false, schemas.WrapError(schemas.KindDriver, "resolving scrollable ancestor", err)
	}
	if parent == nil {
		return false, nil
	}

	metrics, err := e.driver.ScrollMetrics(ctx, parent)
	if err != nil {
		return false, schemas.WrapError(schemas.KindDriver, "reading scroll metrics", err)
	}
	remaining := metrics.Total - metrics.Offset - metrics.Visible
	if remaining <= 0 {
		return false, nil
	}

	advance := metrics.Visible
	if advance > remaining {
		advance = remaining
	}
	if err := e.driver.SetScrollOffset(ctx, parent, metrics.Offset+advance); err != nil {
		return false, schemas.WrapError(schemas.KindDriver, "advancing scroll offset", err)
	}

	wait(ctx, e.cfg.Processing.ScrollSettleWait)

	// Re-resolve the container: the scroll may have re-rendered it.
	containerNow, err := e.driver.Locate(ctx, e.cfg.Target.ListContainer)
	if err != nil {
		return false, schemas.WrapError(schemas.KindDriver, "re-discovering list container", err)
	}
	if containerNow == nil {
		return false, nil
	}
	itemsNow, err := e.driver.LocateAllIn(ctx, containerNow, e.cfg.Target.ItemSelector)
	if err != nil {
		return false, schemas.WrapError(schemas.KindDriver, "recounting items", err)
	}

	grew := len(itemsNow) > before
	e.logger.Debug("Scrolled for more items.",
		zap.Int("before", before), zap.Int("after", len(itemsNow)), zap.Bool("grew", grew))
	return grew, nil
}

// itemName extracts the display name, falling back to a truncated slice of
// the card text.
func (e *Engine) itemName(ctx context.Context, handle schemas.ElementRef) string {
	if nameEl, err := e.driver.LocateIn(ctx, handle, e.cfg.Target.ItemName); err == nil && nameEl != nil {
		if name, err := e.driver.TextContent(ctx, nameEl); err == nil && name != "" {
			return name
		}
	}
	text, err := e.driver.TextContent(ctx, handle)
	if err != nil || text == "" {
		return "unknown"
	}
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > 40 {
		text = text[:40]
	}
	return text
}

func (e *Engine) abort(result schemas.ProcessingResult, err error) schemas.ProcessingResult {
	result.Success = false
	result.Error = err.Error()
	e.logger.Error("Item processing aborted.", zap.Error(err))
	return result
}

func (e *Engine) report(result *schemas.ProcessingResult) {
	if e.progress != nil {
		e.progress(result.ItemsProcessed, result.ItemsSucceeded)
	}
}

// deriveID builds the within-run deduplication key from the display name and
// the item's ordinal in discovery order. Not a cross-run identity.
func deriveID(name string, index int) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		normalized = "item"
	}
	return fmt.Sprintf("%s#%d", normalized, index)
}

func wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
