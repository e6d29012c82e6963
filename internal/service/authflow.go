package service

import (
	"context"
	"errors"
	"net/url"

	"go.uber.org/zap"

	"merchant-actions-api/internal/auth"
	"merchant-actions-api/internal/deeplink"
	"merchant-actions-api/internal/events"
	"merchant-actions-api/internal/features"
)

// ErrLinkRejected is the generic failure surfaced for any decryption or
// configuration problem during the token exchange. Raw cryptographic detail
// is logged, never returned to the caller.
var ErrLinkRejected = errors.New("invalid or expired link")

// ErrMintingDisabled is returned when the link-minting flag is off.
var ErrMintingDisabled = errors.New("link minting is disabled")

// AuthFlow orchestrates the deep-link handoff: it runs the parse state
// machine over the supplied sources, exchanges the validated token for a
// session, and answers the redirect decision.
type AuthFlow struct {
	cipher    *deeplink.Cipher
	sessions  *auth.Store
	flags     *features.Manager
	events    *events.Manager
	devMarker string
	linkBase  string
	logger    *zap.Logger
}

// AuthFlowOptions collects the AuthFlow collaborators.
type AuthFlowOptions struct {
	Cipher    *deeplink.Cipher
	Sessions  *auth.Store
	Flags     *features.Manager
	Events    *events.Manager
	DevMarker string
	LinkBase  string
	Logger    *zap.Logger
}

// NewAuthFlow creates the deep-link orchestration service. Cipher may be
// nil when the secrets are not configured; handoffs then fail with
// ErrLinkRejected instead of crashing at startup.
func NewAuthFlow(opts AuthFlowOptions) *AuthFlow {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthFlow{
		cipher:    opts.Cipher,
		sessions:  opts.Sessions,
		flags:     opts.Flags,
		events:    opts.Events,
		devMarker: opts.DevMarker,
		linkBase:  opts.LinkBase,
		logger:    logger,
	}
}

// HandoffResult is the outcome of a full handoff attempt.
type HandoffResult struct {
	State    deeplink.State       `json:"state"`
	Redirect deeplink.Destination `json:"redirect"`
	Session  *auth.Session        `json:"session,omitempty"`
}

// Handoff runs the single-shot parse over the structured params with the
// launch URL as fallback, then completes the token exchange on success.
// Parse failures are expected outcomes, not errors: they yield an error
// state and a login redirect.
func (f *AuthFlow) Handoff(ctx context.Context, params deeplink.Params, launchURL string, sessionID string) (HandoffResult, error) {
	h := deeplink.NewHandoff(params,
		deeplink.WithFallback(staticURL(launchURL)),
		deeplink.WithDevMarker(f.devMarker),
		deeplink.WithLogger(f.logger),
	)

	// Already-authenticated callers that never engage parsing skip the
	// whole flow.
	if f.sessions.IsAuthenticated(ctx, sessionID) {
		if dest := h.Route(true); dest == deeplink.DestinationHome {
			return HandoffResult{State: h.State(), Redirect: dest}, nil
		}
	}

	out := h.Start(ctx)
	if out.State != deeplink.StateSuccess {
		if f.events != nil {
			f.events.PublishDeepLinkFailed(ctx, "missing required parameters")
		}
		return HandoffResult{State: out.State, Redirect: h.Route(false)}, nil
	}

	sess, err := f.completeExchange(ctx, out.Params)
	if err != nil {
		if f.events != nil {
			f.events.PublishDeepLinkFailed(ctx, "token exchange failed")
		}
		return HandoffResult{State: deeplink.StateError, Redirect: deeplink.DestinationLogin}, err
	}

	if f.events != nil {
		f.events.PublishSessionEstablished(ctx, sess.ID, sess.MerchantID)
	}
	return HandoffResult{
		State:    out.State,
		Redirect: h.Route(false),
		Session:  sess,
	}, nil
}

// completeExchange turns validated parameters into a session. Links carrying
// the v2 marker skip the legacy decryption step when the v2 flag is on.
func (f *AuthFlow) completeExchange(ctx context.Context, params deeplink.Params) (*auth.Session, error) {
	token := params.AccessToken

	v2 := params.V2 != "" && f.flags != nil && f.flags.IsEnabled(features.FlagDeepLinkV2)
	if !v2 {
		if f.cipher == nil {
			f.logger.Error("deep-link secrets not configured")
			return nil, ErrLinkRejected
		}
		plain, err := f.cipher.Decrypt(token)
		if err != nil {
			f.logger.Warn("deep-link token decryption failed", zap.Error(err))
			return nil, ErrLinkRejected
		}
		token = plain
	}

	sess, err := f.sessions.Establish(ctx, token, params.MerchantID, params.RefreshToken)
	if err != nil {
		f.logger.Error("session establishment failed", zap.Error(err))
		return nil, ErrLinkRejected
	}
	return sess, nil
}

// MintLink produces a deep link for the given parameters, encrypting the
// access token the way the merchant portal does.
func (f *AuthFlow) MintLink(params deeplink.Params) (string, error) {
	if f.flags == nil || !f.flags.IsEnabled(features.FlagLinkMinting) {
		return "", ErrMintingDisabled
	}
	if !params.Complete() {
		return "", errors.New("accessToken and currentMerchantPayformanceId are required")
	}
	if f.cipher == nil {
		return "", ErrLinkRejected
	}

	encrypted, err := f.cipher.Encrypt(params.AccessToken)
	if err != nil {
		f.logger.Error("deep-link token encryption failed", zap.Error(err))
		return "", ErrLinkRejected
	}
	params.AccessToken = encrypted

	base, err := url.Parse(f.linkBase)
	if err != nil {
		return "", err
	}
	base.RawQuery = params.URLValues().Encode()
	return base.String(), nil
}

// staticURL adapts an already-retrieved launch URL to the fallback source
// interface. An empty URL behaves like an absent source.
func staticURL(raw string) deeplink.URLSource {
	return deeplink.URLSourceFunc(func(ctx context.Context) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return raw, nil
	})
}
