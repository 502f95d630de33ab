// internal/session/handler_test.go
package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/djbob2000/linked-clicker-sub000/api/schemas"
	"github.com/djbob2000/linked-clicker-sub000/internal/browsertest"
	"github.com/djbob2000/linked-clicker-sub000/internal/config"
)

const (
	loginURL = "https://site.test/login"
	feedURL  = "https://site.test/feed/"
)

func testConfig() *config.Config {
	cfg := config.NewDefault()
	cfg.Credentials = config.CredentialsConfig{Username: "user@example.test", Password: "hunter2"}
	cfg.Target.LoginURL = loginURL
	cfg.Target.AuthenticatedURLFragment = "/feed"
	cfg.Target.ChallengeURLFragment = "/checkpoint"
	cfg.Target.UsernameSelector = "username"
	cfg.Target.PasswordSelector = "password"
	cfg.Target.SubmitSelector = "submit"
	cfg.Target.LoginErrorSelector = "login-error"
	cfg.Target.LoginOKSelector = "global-nav"
	return cfg
}

// loginForm scripts the fake with a standard login page.
func loginForm() []*browsertest.Node {
	return []*browsertest.Node{
		browsertest.NewNode("username", ""),
		browsertest.NewNode("password", ""),
		browsertest.NewNode("submit", "Sign in"),
	}
}

func newHandler(t *testing.T, fake *browsertest.Fake, cfg *config.Config) *Handler {
	t.Helper()
	return NewHandler(fake, cfg, zaptest.NewLogger(t))
}

func TestAuthenticate_HappyPath(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	fake := browsertest.New()
	fake.Roots = loginForm()
	fake.OnNavigate = func(url string) {
		if url == loginURL {
			// Submitting the form lands on the feed with the success marker.
			fake.Roots = append(loginForm(), browsertest.NewNode("global-nav", ""))
		}
	}

	h := newHandler(t, fake, cfg)
	require.NoError(t, h.Authenticate(context.Background()))

	assert.Equal(t, []string{loginURL}, fake.NavigatedTo)
	assert.Equal(t, "user@example.test", fake.Filled["username"])
	assert.Equal(t, "hunter2", fake.Filled["password"])
	assert.Equal(t, []string{"submit"}, fake.Clicked)
}

func TestAuthenticate_MissingCredentialsFailsFast(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Credentials = config.CredentialsConfig{}
	fake := browsertest.New()

	h := newHandler(t, fake, cfg)
	err := h.Authenticate(context.Background())

	require.Error(t, err)
	assert.Equal(t, schemas.KindConfiguration, schemas.KindOf(err))
	assert.Empty(t, fake.NavigatedTo, "no browser traffic without credentials")
}

func TestAuthenticate_ExistingSessionShortCircuits(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	fake := browsertest.New()
	// Navigating to the login page redirects straight to the feed.
	fake.OnNavigate = func(url string) { fake.SetURL(feedURL) }

	h := newHandler(t, fake, cfg)
	require.NoError(t, h.Authenticate(context.Background()))

	assert.Empty(t, fake.Filled, "an existing session must not re-submit credentials")
	assert.Empty(t, fake.Clicked)
}

func TestAuthenticate_CredentialRejectionIsTerminal(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	fake := browsertest.New()
	fake.Roots = append(loginForm(),
		browsertest.NewNode("login-error", "Wrong email or password."))

	h := newHandler(t, fake, cfg)
	err := h.Authenticate(context.Background())

	require.Error(t, err)
	assert.Equal(t, schemas.KindSession, schemas.KindOf(err))
	assert.False(t, schemas.IsRecoverable(err))
	assert.ErrorContains(t, err, "Wrong email or password")
	// A single submit: repeated attempts against rejected credentials risk an
	// account lockout.
	assert.Equal(t, []string{"submit"}, fake.Clicked)
}

func TestAuthenticate_SecurityChallengeIsTerminal(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	fake := browsertest.New()
	fake.Roots = loginForm()
	fake.OnNavigate = func(url string) {
		fake.SetURL("https://site.test/checkpoint/challenge")
	}

	h := newHandler(t, fake, cfg)
	err := h.Authenticate(context.Background())

	require.Error(t, err)
	assert.Equal(t, schemas.KindSession, schemas.KindOf(err))
	assert.ErrorContains(t, err, "challenge")
	assert.Len(t, fake.Clicked, 1)
}

func TestDetectOutcome_FailureIndicatorWinsOverSuccessSignals(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	fake := browsertest.New()
	// Both an error marker and every success signal are present; the explicit
	// failure must win.
	fake.Roots = []*browsertest.Node{
		browsertest.NewNode("login-error", "Please check your password."),
		browsertest.NewNode("global-nav", ""),
	}
	fake.SetURL(feedURL)

	h := newHandler(t, fake, cfg)
	err := h.detectOutcome(context.Background())

	require.Error(t, err)
	assert.Equal(t, schemas.KindSession, schemas.KindOf(err))
}

func TestDetectOutcome_URLHeuristicIsLastResort(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	fake := browsertest.New() // no markers on the page at all
	h := newHandler(t, fake, cfg)

	fake.SetURL(feedURL)
	assert.NoError(t, h.detectOutcome(context.Background()))

	fake.SetURL(loginURL)
	err := h.detectOutcome(context.Background())
	require.Error(t, err)
	assert.Equal(t, schemas.KindNavigation, schemas.KindOf(err))
	assert.True(t, schemas.IsRecoverable(err), "an inconclusive outcome is worth one more attempt")
}

// flakyNav fails the first n navigations with a transient network error.
type flakyNav struct {
	*browsertest.Fake
	failures int
}

func (f *flakyNav) Navigate(ctx context.Context, url string) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("net::ERR_NETWORK_CHANGED")
	}
	return f.Fake.Navigate(ctx, url)
}

func TestAuthenticate_TransientNavigationFailureIsRetried(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	fake := browsertest.New()
	fake.Roots = append(loginForm(), browsertest.NewNode("global-nav", ""))
	driver := &flakyNav{Fake: fake, failures: 1}

	h := NewHandler(driver, cfg, zaptest.NewLogger(t))
	err := h.Authenticate(context.Background())

	require.NoError(t, err)
	assert.Zero(t, driver.failures)
	assert.Equal(t, []string{loginURL}, fake.NavigatedTo, "only the second attempt reaches the page")
}

func TestAuthenticate_MissingLoginFormFails(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	fake := browsertest.New() // empty page, no form fields

	h := newHandler(t, fake, cfg)
	err := h.Authenticate(context.Background())

	require.Error(t, err)
	assert.Equal(t, schemas.KindNavigation, schemas.KindOf(err))
	assert.ErrorContains(t, err, "username field")
}
