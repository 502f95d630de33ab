// internal/navigation/handler.go
package navigation

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/djbob2000/linked-clicker-sub000/api/schemas"
	"github.com/djbob2000/linked-clicker-sub000/internal/config"
	"github.com/djbob2000/linked-clicker-sub000/internal/resilience"
)

const (
	breakerThreshold = 3
	breakerRecovery  = 30 * time.Second
	containerPoll    = 500 * time.Millisecond
)

// Handler drives the page to the screen containing the growable list and
// opens it. The whole sequence sits behind a circuit breaker so a dead or
// redesigned target page stops being hammered quickly.
type Handler struct {
	driver  schemas.Driver
	cfg     *config.Config
	logger  *zap.Logger
	breaker *resilience.CircuitBreaker
}

// NewHandler builds a navigation handler around the shared browser driver.
func NewHandler(driver schemas.Driver, cfg *config.Config, logger *zap.Logger) *Handler {
	log := logger.Named("navigation")
	return &Handler{
		driver:  driver,
		cfg:     cfg,
		logger:  log,
		breaker: resilience.NewCircuitBreaker(breakerThreshold, breakerRecovery, log),
	}
}

// NavigateToTarget opens the network page and expands the suggestion list,
// under the breaker plus a two attempt retry.
func (h *Handler) NavigateToTarget(ctx context.Context) error {
	return h.breaker.Execute(ctx, func(ctx context.Context) error {
		policy := resilience.Policy{
			MaxAttempts: 2,
			BaseDelay:   2 * time.Second,
			MaxDelay:    5 * time.Second,
			Multiplier:  2.0,
		}
		outcome := resilience.Retry(ctx, h.logger, policy, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, h.attempt(ctx)
		})
		if !outcome.Succeeded {
			h.logger.Error("Navigation to target failed.",
				zap.Int("attempts", outcome.Attempts), zap.Error(outcome.Err))
			return outcome.Err
		}
		return nil
	})
}

func (h *Handler) attempt(ctx context.Context) error {
	if err := h.driver.Navigate(ctx, h.cfg.Target.NetworkURL); err != nil {
		return schemas.WrapError(schemas.KindNavigation, "failed to open network page", err)
	}

	// The expanded container may already be on screen, e.g. after a deep link.
	if container, _ := h.driver.Locate(ctx, h.cfg.Target.ListContainer); container != nil {
		h.logger.Debug("List container already present.")
		return nil
	}

	if err := h.openList(ctx); err != nil {
		return err
	}
	if err := h.waitForContainer(ctx); err == nil {
		return nil
	}

	// One bounded re-try of the open-then-wait sequence: the first click can
	// land on a control that re-rendered mid-flight.
	h.logger.Warn("List container did not appear, retrying the expand affordance once.")
	if err := h.openList(ctx); err != nil {
		return err
	}
	if err := h.waitForContainer(ctx); err != nil {
		navErr := schemas.NewError(schemas.KindNavigation,
			"list container did not appear after expanding")
		navErr.Recoverable = false
		return navErr
	}
	return nil
}

// openList activates the expand-list affordance, trying the configured
// structured locators in order and falling back to a text scan when all miss.
func (h *Handler) openList(ctx context.Context) error {
	for _, selector := range h.cfg.Target.ExpandListSelectors {
		el, err := h.driver.Locate(ctx, selector)
		if err != nil {
			return schemas.WrapError(schemas.KindDriver, "looking up expand affordance", err)
		}
		if el == nil {
			continue
		}
		if visible, _ := h.driver.IsVisible(ctx, el); !visible {
			continue
		}
		if err := h.driver.Click(ctx, el); err != nil {
			return schemas.WrapError(schemas.KindNavigation, "clicking expand affordance", err)
		}
		h.logger.Debug("Expanded list.", zap.String("selector", selector))
		return nil
	}

	el, err := h.scanByText(ctx)
	if err != nil {
		return err
	}
	if el == nil {
		return schemas.NewError(schemas.KindNavigation, "no expand-list affordance found on page")
	}
	if err := h.driver.Click(ctx, el); err != nil {
		return schemas.WrapError(schemas.KindNavigation, "clicking expand affordance (text scan)", err)
	}
	h.logger.Debug("Expanded list via text scan.")
	return nil
}

// scanByText is the last-resort affordance lookup: walk every button and link
// and match on text content.
func (h *Handler) scanByText(ctx context.Context) (schemas.ElementRef, error) {
	wanted := strings.ToLower(h.cfg.Target.ExpandListText)
	if wanted == "" {
		return nil, nil
	}
	for _, tag := range []string{"button", "a"} {
		candidates, err := h.driver.LocateAll(ctx, tag)
		if err != nil {
			return nil, schemas.WrapError(schemas.KindDriver, "scanning page text", err)
		}
		for _, el := range candidates {
			text, err := h.driver.TextContent(ctx, el)
			if err != nil {
				continue
			}
			if strings.Contains(strings.ToLower(text), wanted) {
				return el, nil
			}
		}
	}
	return nil, nil
}

// waitForContainer polls for the expanded container within the configured
// element wait.
func (h *Handler) waitForContainer(ctx context.Context) error {
	deadline := time.Now().Add(h.cfg.Network.ElementWait)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		container, err := h.driver.Locate(ctx, h.cfg.Target.ListContainer)
		if err != nil {
			return schemas.WrapError(schemas.KindDriver, "looking up list container", err)
		}
		if container != nil {
			return nil
		}
		if time.Now().After(deadline) {
			return schemas.NewError(schemas.KindNavigation, "timed out waiting for list container")
		}
		timer := time.NewTimer(containerPoll)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}
