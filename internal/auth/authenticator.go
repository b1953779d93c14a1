// internal/auth/authenticator.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aviatools/unipix-etl/internal/codechannel"
	"github.com/aviatools/unipix-etl/internal/config"
	"github.com/aviatools/unipix-etl/internal/resolve"
)

// State is a node of the authentication state machine.
type State int

const (
	StateInit State = iota
	StateCredentialsEntered
	StateTwoFactorChallenge
	StateCodeSubmitted
	StateAuthenticated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateCredentialsEntered:
		return "credentials_entered"
	case StateTwoFactorChallenge:
		return "two_factor_challenge"
	case StateCodeSubmitted:
		return "code_submitted"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrAuthFailed reports that the portal rejected the login: after
	// submission the browser is still on a login/auth page.
	ErrAuthFailed = errors.New("authentication rejected by portal")
	// ErrNoCode reports that no verification code could be obtained from
	// either the out-of-band channel or the manual fallback.
	ErrNoCode = errors.New("no verification code available")
)

// The portal is a SPA whose markup shifts between deployments, so every UI
// target is an ordered candidate list: specific locators first, generic last.
var (
	identityFieldCandidates = []string{
		"//input[@name='username']",
		"//input[@id='username']",
		"//input[@placeholder='Usuário']",
		"//input[@type='text']",
		"//input[@type='email']",
	}
	secretFieldCandidates = []string{
		"//input[@name='password']",
		"//input[@id='password']",
		"//input[@placeholder='Senha']",
		"//input[@type='password']",
	}
	submitCandidates = []string{
		"//button[@type='submit']",
		"//button[contains(text(), 'Login')]",
		"//button[contains(text(), 'Entrar')]",
		"//input[@type='submit']",
	}
	twoFactorIndicators = []string{
		"//*[contains(text(), 'dois fatores')]",
		"//*[contains(text(), '2FA')]",
		"//*[contains(text(), 'autenticação')]",
		"//*[contains(text(), 'código')]",
		"//input[@name='code']",
		"//input[@placeholder='Código']",
		"//input[@type='number']",
	}
	codeFieldCandidates = []string{
		"//input[@name='code']",
		"//input[@placeholder='Código']",
		"//input[@type='number']",
		"//input[contains(@id, 'code')]",
		"//input[contains(@name, 'token')]",
		"//input[@type='text']",
	}
	verifyCandidates = []string{
		"//button[contains(text(), 'Verificar')]",
		"//button[contains(text(), 'Confirmar')]",
		"//button[@type='submit']",
		"//button[contains(text(), 'Enviar')]",
	}
)

// CodeSource yields a verification code from the out-of-band channel.
type CodeSource interface {
	AwaitCode(ctx context.Context, maxWait time.Duration) (codechannel.Code, error)
}

// CodePrompter supplies a code interactively when the channel comes up empty.
type CodePrompter interface {
	PromptCode(ctx context.Context) (string, error)
}

// Authenticator drives the login state machine against the portal:
//
//	Init → CredentialsEntered → (TwoFactorChallenge | Authenticated)
//	TwoFactorChallenge → CodeSubmitted → (Authenticated | Failed)
//
// Authenticated and Failed are terminal. An Authenticator is good for one
// attempt; build a new one (with a fresh agent) to retry.
type Authenticator struct {
	agent    Agent
	resolver *resolve.Resolver
	channel  CodeSource
	prompter CodePrompter

	loginCfg   config.LoginConfig
	channelCfg config.ChannelConfig

	state State
	log   *zap.Logger
}

// NewAuthenticator wires an authenticator. prompter may be nil, in which
// case a dry channel is terminal for the 2FA phase.
func NewAuthenticator(
	agent Agent,
	channel CodeSource,
	prompter CodePrompter,
	loginCfg config.LoginConfig,
	channelCfg config.ChannelConfig,
	logger *zap.Logger,
) *Authenticator {
	log := logger.Named("auth")
	return &Authenticator{
		agent:      agent,
		resolver:   resolve.New(agent, log),
		channel:    channel,
		prompter:   prompter,
		loginCfg:   loginCfg,
		channelCfg: channelCfg,
		state:      StateInit,
		log:        log,
	}
}

// State returns the current state of the machine.
func (a *Authenticator) State() State {
	return a.state
}

// Authenticate runs the state machine to a terminal state. On success it
// returns the established Session (cookies only; token extraction is the
// caller's next step) together with the storage snapshot captured from the
// authenticated page.
func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*Session, StorageSnapshot, error) {
	if a.state != StateInit {
		return nil, StorageSnapshot{}, fmt.Errorf("authenticator already ran (state %s); a fresh attempt needs a fresh authenticator", a.state)
	}

	if err := a.enterCredentials(ctx, creds); err != nil {
		a.setState(StateFailed)
		return nil, StorageSnapshot{}, err
	}
	a.setState(StateCredentialsEntered)

	if err := a.pause(ctx, a.loginCfg.SettleTime); err != nil {
		a.setState(StateFailed)
		return nil, StorageSnapshot{}, err
	}

	if a.twoFactorRequired(ctx) {
		a.setState(StateTwoFactorChallenge)
		if err := a.passTwoFactor(ctx); err != nil {
			a.setState(StateFailed)
			return nil, StorageSnapshot{}, err
		}
	} else {
		if err := a.pause(ctx, a.loginCfg.SettleTime); err != nil {
			a.setState(StateFailed)
			return nil, StorageSnapshot{}, err
		}
		if err := a.checkLoggedIn(ctx); err != nil {
			a.setState(StateFailed)
			return nil, StorageSnapshot{}, err
		}
	}

	session, snapshot, err := a.capture(ctx)
	if err != nil {
		a.setState(StateFailed)
		return nil, StorageSnapshot{}, err
	}

	a.setState(StateAuthenticated)
	a.log.Info("Login succeeded", zap.Int("cookies", len(session.Cookies)))
	return session, snapshot, nil
}

// enterCredentials navigates to the login page and fills the form. Any
// unresolved target is fatal for the run.
func (a *Authenticator) enterCredentials(ctx context.Context, creds Credentials) error {
	if err := a.agent.Navigate(ctx, a.loginCfg.URL); err != nil {
		return err
	}
	if err := a.pause(ctx, a.loginCfg.SettleTime); err != nil {
		return err
	}

	if _, err := a.resolver.TypeInto(ctx, identityFieldCandidates, creds.Identity); err != nil {
		return fmt.Errorf("identity field: %w", err)
	}
	if _, err := a.resolver.TypeInto(ctx, secretFieldCandidates, creds.Secret); err != nil {
		return fmt.Errorf("secret field: %w", err)
	}
	if _, err := a.resolver.ClickAny(ctx, submitCandidates); err != nil {
		return fmt.Errorf("submit control: %w", err)
	}
	a.log.Info("Credentials submitted")
	return nil
}

// twoFactorRequired probes the page for any of the known 2FA indicators.
func (a *Authenticator) twoFactorRequired(ctx context.Context) bool {
	for _, indicator := range twoFactorIndicators {
		if a.agent.Visible(ctx, indicator) {
			a.log.Info("Two-factor challenge detected", zap.String("indicator", indicator))
			return true
		}
	}
	return false
}

// passTwoFactor obtains a code and submits it. A code that came from the
// channel but gets rejected is given one manual retry before the run fails.
func (a *Authenticator) passTwoFactor(ctx context.Context) error {
	code, fromChannel, err := a.obtainCode(ctx)
	if err != nil {
		return err
	}

	if err := a.submitCode(ctx, code); err != nil {
		return err
	}
	if err := a.checkLoggedIn(ctx); err == nil {
		return nil
	} else if !errors.Is(err, ErrAuthFailed) {
		return err
	}

	if !fromChannel || a.prompter == nil {
		return fmt.Errorf("verification code rejected: %w", ErrAuthFailed)
	}

	// The channel code may have been stale; fall back to manual entry once.
	a.log.Warn("Channel code rejected, falling back to manual entry")
	manual, err := a.promptCode(ctx)
	if err != nil {
		return err
	}
	if err := a.submitCode(ctx, manual); err != nil {
		return err
	}
	return a.checkLoggedIn(ctx)
}

// obtainCode asks the out-of-band channel first and falls back to the
// interactive prompt when the channel yields nothing.
func (a *Authenticator) obtainCode(ctx context.Context) (code string, fromChannel bool, err error) {
	if a.channel != nil {
		// The external producer needs time to observe the challenge and
		// write the code; do not start hammering the file immediately.
		a.log.Info("Allowing the code channel time to update",
			zap.Duration("pre_delay", a.channelCfg.PreDelay))
		if err := a.pause(ctx, a.channelCfg.PreDelay); err != nil {
			return "", false, err
		}

		c, err := a.channel.AwaitCode(ctx, a.channelCfg.MaxWait)
		if err == nil {
			return c.Value, true, nil
		}
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		a.log.Warn("Code channel yielded no code", zap.Error(err))
	}

	code, err = a.promptCode(ctx)
	return code, false, err
}

func (a *Authenticator) promptCode(ctx context.Context) (string, error) {
	if a.prompter == nil {
		return "", ErrNoCode
	}
	code, err := a.prompter.PromptCode(ctx)
	if err != nil {
		return "", fmt.Errorf("manual code entry failed: %w", err)
	}
	if strings.TrimSpace(code) == "" {
		return "", ErrNoCode
	}
	return strings.TrimSpace(code), nil
}

// submitCode fills the 2FA input and activates the verify control. The
// candidate lists are resolved fresh on every call since the page may have
// re-rendered after a rejected attempt.
func (a *Authenticator) submitCode(ctx context.Context, code string) error {
	if _, err := a.resolver.TypeInto(ctx, codeFieldCandidates, code); err != nil {
		return fmt.Errorf("code field: %w", err)
	}
	if _, err := a.resolver.ClickAny(ctx, verifyCandidates); err != nil {
		return fmt.Errorf("verify control: %w", err)
	}
	a.setState(StateCodeSubmitted)
	a.log.Info("Verification code submitted")

	// The server-side verification round trip is slow.
	return a.pause(ctx, a.loginCfg.VerifyWait)
}

// checkLoggedIn inspects the post-submit URL. Still being on a login or auth
// page means the portal rejected us.
func (a *Authenticator) checkLoggedIn(ctx context.Context) error {
	url, err := a.agent.CurrentURL(ctx)
	if err != nil {
		return err
	}

	lower := strings.ToLower(url)
	if strings.Contains(lower, "login") || strings.Contains(lower, "auth") {
		a.log.Warn("Still on an authentication page", zap.String("url", url))
		return ErrAuthFailed
	}
	return nil
}

// capture collects cookies and the storage snapshot from the authenticated
// page context.
func (a *Authenticator) capture(ctx context.Context) (*Session, StorageSnapshot, error) {
	cookies, err := a.agent.Cookies(ctx)
	if err != nil {
		return nil, StorageSnapshot{}, fmt.Errorf("failed to capture cookies: %w", err)
	}
	snapshot, err := a.agent.StorageSnapshot(ctx)
	if err != nil {
		return nil, StorageSnapshot{}, fmt.Errorf("failed to capture storage snapshot: %w", err)
	}

	return &Session{
		Cookies:       cookies,
		EstablishedAt: time.Now().UTC(),
	}, snapshot, nil
}

func (a *Authenticator) setState(next State) {
	a.log.Debug("State transition",
		zap.Stringer("from", a.state),
		zap.Stringer("to", next))
	a.state = next
}

// pause sleeps for d unless the context ends first. Zero and negative
// durations return immediately.
func (a *Authenticator) pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
