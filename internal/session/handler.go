// internal/session/handler.go
package session

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/djbob2000/linked-clicker-sub000/api/schemas"
	"github.com/djbob2000/linked-clicker-sub000/internal/config"
	"github.com/djbob2000/linked-clicker-sub000/internal/resilience"
)

// Handler performs the login sequence against the target site. State-free;
// one entry point.
type Handler struct {
	driver schemas.Driver
	cfg    *config.Config
	logger *zap.Logger
}

// NewHandler builds a login handler around the shared browser driver.
func NewHandler(driver schemas.Driver, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		driver: driver,
		cfg:    cfg,
		logger: logger.Named("session"),
	}
}

// Authenticate drives the login flow. The whole sequence runs under a two
// attempt retry whose predicate accepts only browser and navigation class
// failures; a detected credential rejection is terminal so repeated submits
// cannot trip the account lockout.
func (h *Handler) Authenticate(ctx context.Context) error {
	if !h.cfg.Credentials.Present() {
		return schemas.NewError(schemas.KindConfiguration,
			"credentials are not configured; set LINKEDCLICKER_USERNAME and LINKEDCLICKER_PASSWORD")
	}

	policy := resilience.Policy{
		MaxAttempts: 2,
		BaseDelay:   2 * time.Second,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Retryable: func(err error) bool {
			switch schemas.KindOf(err) {
			case schemas.KindDriver, schemas.KindNavigation:
				return schemas.IsRecoverable(err)
			default:
				return false
			}
		},
	}

	outcome := resilience.Retry(ctx, h.logger, policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, h.attemptLogin(ctx)
	})
	if !outcome.Succeeded {
		h.logger.Error("Authentication failed.",
			zap.Int("attempts", outcome.Attempts), zap.Error(outcome.Err))
		return outcome.Err
	}
	h.logger.Info("Authenticated.", zap.Int("attempts", outcome.Attempts))
	return nil
}

// attemptLogin runs one pass of the login sequence.
func (h *Handler) attemptLogin(ctx context.Context) error {
	target := h.cfg.Target

	if err := h.driver.Navigate(ctx, target.LoginURL); err != nil {
		return schemas.WrapError(schemas.KindDriver, "failed to open login page", err)
	}

	// Already authenticated from a previous session: short-circuit.
	if authed, err := h.isAuthenticated(ctx); err == nil && authed {
		h.logger.Info("Existing session detected, skipping login.")
		return nil
	}

	if err := h.fillCredentials(ctx); err != nil {
		return err
	}
	if err := h.submit(ctx); err != nil {
		return err
	}

	return h.detectOutcome(ctx)
}

func (h *Handler) isAuthenticated(ctx context.Context) (bool, error) {
	url, err := h.driver.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	fragment := h.cfg.Target.AuthenticatedURLFragment
	return fragment != "" && strings.Contains(url, fragment), nil
}

func (h *Handler) fillCredentials(ctx context.Context) error {
	target := h.cfg.Target

	username, err := h.driver.Locate(ctx, target.UsernameSelector)
	if err != nil {
		return schemas.WrapError(schemas.KindDriver, "looking up username field", err)
	}
	if username == nil {
		return schemas.NewError(schemas.KindNavigation, "username field did not appear on login page")
	}
	if err := h.driver.Fill(ctx, username, h.cfg.Credentials.Username); err != nil {
		return schemas.WrapError(schemas.KindDriver, "typing username", err)
	}

	password, err := h.driver.Locate(ctx, target.PasswordSelector)
	if err != nil {
		return schemas.WrapError(schemas.KindDriver, "looking up password field", err)
	}
	if password == nil {
		return schemas.NewError(schemas.KindNavigation, "password field did not appear on login page")
	}
	if err := h.driver.Fill(ctx, password, h.cfg.Credentials.Password); err != nil {
		return schemas.WrapError(schemas.KindDriver, "typing password", err)
	}
	return nil
}

func (h *Handler) submit(ctx context.Context) error {
	submit, err := h.driver.Locate(ctx, h.cfg.Target.SubmitSelector)
	if err != nil {
		return schemas.WrapError(schemas.KindDriver, "looking up submit button", err)
	}
	if submit == nil {
		return schemas.NewError(schemas.KindNavigation, "submit button did not appear on login page")
	}
	if err := h.driver.Click(ctx, submit); err != nil {
		return schemas.WrapError(schemas.KindDriver, "submitting login form", err)
	}
	return h.driver.WaitForLoad(ctx)
}

// detectOutcome classifies the post-submit page. Explicit failure indicators
// are checked first and win over every success signal; a URL heuristic is the
// last resort.
func (h *Handler) detectOutcome(ctx context.Context) error {
	target := h.cfg.Target

	// 1. Validation errors on the form.
	if errEl, err := h.driver.Locate(ctx, target.LoginErrorSelector); err == nil && errEl != nil {
		if visible, _ := h.driver.IsVisible(ctx, errEl); visible {
			detail, _ := h.driver.TextContent(ctx, errEl)
			return schemas.NewError(schemas.KindSession, "credentials rejected: "+detail)
		}
	}

	url, err := h.driver.CurrentURL(ctx)
	if err != nil {
		return schemas.WrapError(schemas.KindDriver, "reading post-login URL", err)
	}

	// 2. Security challenge interstitial.
	if target.ChallengeURLFragment != "" && strings.Contains(url, target.ChallengeURLFragment) {
		return schemas.NewError(schemas.KindSession,
			"security challenge encountered, manual verification required")
	}

	// 3. Explicit success indicator.
	if okEl, err := h.driver.Locate(ctx, target.LoginOKSelector); err == nil && okEl != nil {
		return nil
	}

	// 4. URL heuristic.
	if target.AuthenticatedURLFragment != "" && strings.Contains(url, target.AuthenticatedURLFragment) {
		return nil
	}

	return schemas.NewError(schemas.KindNavigation, "could not confirm login outcome").
		WithContext("url", url)
}
