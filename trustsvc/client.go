package trustsvc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/go-resty/resty/v2"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/recoverykit/account"
)

const (
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second

	// hwProofHeader carries the hardware proof of possession token.
	hwProofHeader = "Hw-Proof-Of-Possession"

	pathChallenge   = "/api/accounts/{account}/auth/challenge"
	pathRespond     = "/api/accounts/{account}/auth/respond"
	pathRefresh     = "/api/accounts/{account}/auth/refresh"
	pathDelayNotify = "/api/accounts/{account}/delay-notify"
	pathAuthKeys    = "/api/accounts/{account}/authentication-keys"
	pathKeysets     = "/api/accounts/{account}/spending-keysets"
	pathKeyset      = "/api/accounts/{account}/spending-keysets/{keyset}"
	pathDeviceToken = "/api/accounts/{account}/device-token"
)

// Config configures the trust service client.
type Config struct {
	// BaseURL is the scheme and host of the service.
	BaseURL string

	// Timeout bounds every request. Zero means DefaultTimeout.
	Timeout time.Duration

	// UserAgent is sent with every request if set.
	UserAgent string
}

type sessionKey struct {
	id    account.ID
	scope account.AuthScope
}

// Client talks to the remote trust service. Issued tokens are kept in
// memory per account and scope.
type Client struct {
	http *resty.Client

	mu       sync.Mutex
	sessions map[sessionKey]Tokens
}

// New creates a client for the service at cfg.BaseURL.
func New(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.UserAgent != "" {
		httpClient.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &Client{
		http:     httpClient,
		sessions: make(map[sessionKey]Tokens),
	}
}

// SetSession installs tokens obtained elsewhere, for example at onboarding.
func (c *Client) SetSession(id account.ID, scope account.AuthScope,
	tokens Tokens) {

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions[sessionKey{id, scope}] = tokens
}

// Session returns the tokens held for the account and scope.
func (c *Client) Session(id account.ID,
	scope account.AuthScope) fn.Option[Tokens] {

	c.mu.Lock()
	defer c.mu.Unlock()

	tokens, ok := c.sessions[sessionKey{id, scope}]
	if !ok {
		return fn.None[Tokens]()
	}

	return fn.Some(tokens)
}

// accessToken returns the global scope access token, falling back to the
// recovery scope.
func (c *Client) accessToken(id account.ID) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, scope := range []account.AuthScope{
		account.ScopeGlobal, account.ScopeRecovery,
	} {
		if tokens, ok := c.sessions[sessionKey{id, scope}]; ok {
			return tokens.AccessToken, nil
		}
	}

	return "", fmt.Errorf("%w for account %v", ErrNoSession, id)
}

// request describes one call to the service.
type request struct {
	op      string
	method  string
	path    string
	id      account.ID
	token   string
	keyset  string
	hwProof fn.Option[account.HwProofOfPossession]
	body    interface{}
	result  interface{}
}

// send executes req and maps failures onto NetworkError and APIError.
// Context errors are returned as is.
func (c *Client) send(ctx context.Context, req *request) (*resty.Response,
	error) {

	var apiErr errorResponse
	r := c.http.R().
		SetContext(ctx).
		SetPathParam("account", string(req.id)).
		SetError(&apiErr)

	if req.keyset != "" {
		r.SetPathParam("keyset", req.keyset)
	}
	if req.token != "" {
		r.SetAuthToken(req.token)
	}
	req.hwProof.WhenSome(func(proof account.HwProofOfPossession) {
		r.SetHeader(hwProofHeader, proof.Token)
	})
	if req.body != nil {
		r.SetBody(req.body)
	}
	if req.result != nil {
		r.SetResult(req.result)
	}

	resp, err := r.Execute(req.method, req.path)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, fmt.Errorf("%s: %w", req.op, ctx.Err())

	case err != nil:
		return nil, &NetworkError{Op: req.op, Err: err}

	case resp.StatusCode() >= http.StatusInternalServerError:
		return resp, &NetworkError{
			Op:     req.op,
			Status: resp.StatusCode(),
		}

	case resp.IsError():
		return resp, &APIError{
			Op:      req.op,
			Status:  resp.StatusCode(),
			Code:    apiErr.Code,
			Message: apiErr.Message,
		}
	}

	log.Tracef("%s %s: status %d", req.method, req.path, resp.StatusCode())

	return resp, nil
}

// authError turns authentication rejections into AuthProtocolError. The
// service answers 401, 403 or 404 once the account's recovery is gone, so
// every recovery scoped call passes its error through here.
func authError(err error) error {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.Status {
	case http.StatusUnauthorized, http.StatusForbidden,
		http.StatusNotFound:

		return &AuthProtocolError{
			Op:     apiErr.Op,
			Status: apiErr.Status,
			Code:   apiErr.Code,
		}
	}

	return err
}

// AppAuth authenticates with key in scope using a challenge-response
// exchange and stores the issued tokens. A rejection is returned as
// *AuthProtocolError.
func (c *Client) AppAuth(ctx context.Context, id account.ID,
	key *btcec.PrivateKey, scope account.AuthScope) (*Tokens, error) {

	var challenge challengeResponse
	_, err := c.send(ctx, &request{
		op:     "auth challenge",
		method: http.MethodPost,
		path:   pathChallenge,
		id:     id,
		body: &challengeRequest{
			AuthKey: account.EncodePubKey(key.PubKey()),
			Scope:   scope,
		},
		result: &challenge,
	})
	if err != nil {
		return nil, authError(err)
	}

	sig := ecdsa.Sign(key, chainhash.HashB(challenge.Challenge))

	var tokens tokenResponse
	_, err = c.send(ctx, &request{
		op:     "auth respond",
		method: http.MethodPost,
		path:   pathRespond,
		id:     id,
		body: &challengeAnswer{
			Session:   challenge.Session,
			Signature: sig.Serialize(),
		},
		result: &tokens,
	})
	if err != nil {
		return nil, authError(err)
	}

	c.SetSession(id, scope, tokens.Tokens)
	log.Debugf("Authenticated account %v in %v scope", id, scope)

	return &tokens.Tokens, nil
}

// RefreshAccessToken exchanges the refresh token of scope for new tokens.
func (c *Client) RefreshAccessToken(ctx context.Context, id account.ID,
	scope account.AuthScope) error {

	session, err := c.Session(id, scope).UnwrapOrErr(
		fmt.Errorf("%w for account %v in %v scope", ErrNoSession, id,
			scope),
	)
	if err != nil {
		return err
	}

	var tokens tokenResponse
	_, err = c.send(ctx, &request{
		op:     "refresh",
		method: http.MethodPost,
		path:   pathRefresh,
		id:     id,
		body: &refreshRequest{
			RefreshToken: session.RefreshToken,
			Scope:        scope,
		},
		result: &tokens,
	})
	if err != nil {
		return authError(err)
	}

	c.SetSession(id, scope, tokens.Tokens)

	return nil
}

// GetActiveRecovery returns the in-progress recovery of the account, or
// None if the service knows of none.
func (c *Client) GetActiveRecovery(ctx context.Context,
	id account.ID) (fn.Option[ActiveRecovery], error) {

	token, err := c.accessToken(id)
	if err != nil {
		return fn.None[ActiveRecovery](), err
	}

	var rec recoveryResponse
	_, err = c.send(ctx, &request{
		op:     "get recovery",
		method: http.MethodGet,
		path:   pathDelayNotify,
		id:     id,
		token:  token,
		result: &rec,
	})

	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound:
		return fn.None[ActiveRecovery](), nil

	case err != nil:
		return fn.None[ActiveRecovery](), err
	}

	lost := account.FactorApp
	switch rec.LostFactor {
	case "app":
	case "hardware":
		lost = account.FactorHardware
	default:
		return fn.None[ActiveRecovery](), fmt.Errorf("unknown lost "+
			"factor %q", rec.LostFactor)
	}

	return fn.Some(ActiveRecovery{
		LostFactor: lost,
		DelayStart: rec.DelayStart,
		DelayEnd:   rec.DelayEnd,
	}), nil
}

// RotateAuthKeys replaces the account's app and recovery auth keys. The
// request is authorised by the hardware signature over the challenge. A
// rejection is returned as *AuthProtocolError.
func (c *Client) RotateAuthKeys(ctx context.Context, id account.ID,
	req *RotateAuthKeysRequest) error {

	token, err := c.accessToken(id)
	if err != nil {
		return err
	}

	_, err = c.send(ctx, &request{
		op:     "rotate auth keys",
		method: http.MethodPost,
		path:   pathAuthKeys,
		id:     id,
		token:  token,
		body: &rotateAuthKeysBody{
			Challenge:     req.Challenge,
			HwSignature:   req.HwSignature,
			NewAppAuthKey: account.EncodePubKey(req.NewAppAuthKey),
			NewRecoveryAuthKey: account.EncodePubKey(
				req.NewRecoveryAuthKey,
			),
			SealedCsek: req.SealedCsek,
		},
	})

	return authError(err)
}

// CreateSpendingKeyset registers a new, inactive keyset and returns it with
// the server's spending key.
func (c *Client) CreateSpendingKeyset(ctx context.Context, id account.ID,
	network account.Network, appKey, hwKey *btcec.PublicKey,
	proof *account.HwProofOfPossession) (*account.SpendingKeyset, error) {

	token, err := c.accessToken(id)
	if err != nil {
		return nil, err
	}

	var created createKeysetResponse
	_, err = c.send(ctx, &request{
		op:      "create keyset",
		method:  http.MethodPost,
		path:    pathKeysets,
		id:      id,
		token:   token,
		hwProof: fn.Some(*proof),
		body: &createKeysetBody{
			Network:     network,
			AppKey:      account.EncodePubKey(appKey),
			HardwareKey: account.EncodePubKey(hwKey),
		},
		result: &created,
	})
	if err != nil {
		return nil, authError(err)
	}

	serverKey, err := account.DecodePubKey(created.ServerKey)
	if err != nil {
		return nil, fmt.Errorf("invalid server spending key: %w", err)
	}

	return &account.SpendingKeyset{
		ID:       created.KeysetID,
		Network:  network,
		App:      appKey,
		Hardware: hwKey,
		Server:   serverKey,
	}, nil
}

// ActivateSpendingKeyset makes keysetID the account's active keyset.
func (c *Client) ActivateSpendingKeyset(ctx context.Context, id account.ID,
	keysetID string, proof *account.HwProofOfPossession) error {

	token, err := c.accessToken(id)
	if err != nil {
		return err
	}

	_, err = c.send(ctx, &request{
		op:      "activate keyset",
		method:  http.MethodPut,
		path:    pathKeyset,
		id:      id,
		token:   token,
		keyset:  keysetID,
		hwProof: fn.Some(*proof),
	})

	return authError(err)
}

// CancelRecovery asks the service to cancel the account's recovery. The
// hardware proof is required when the app factor is the one being
// recovered.
func (c *Client) CancelRecovery(ctx context.Context, id account.ID,
	proof fn.Option[account.HwProofOfPossession]) (CancelOutcome, error) {

	token, err := c.accessToken(id)
	if err != nil {
		return CancelAccepted, err
	}

	_, err = c.send(ctx, &request{
		op:      "cancel recovery",
		method:  http.MethodDelete,
		path:    pathDelayNotify,
		id:      id,
		token:   token,
		hwProof: proof,
	})

	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) &&
		apiErr.Code == codeCommsVerificationRequired:

		return CancelNeedsCommsVerification, nil

	case err != nil:
		return CancelAccepted, authError(err)
	}

	return CancelAccepted, nil
}

// RegisterDeviceToken registers a push notification token for the account.
func (c *Client) RegisterDeviceToken(ctx context.Context, id account.ID,
	deviceToken string, platform DevicePlatform) error {

	token, err := c.accessToken(id)
	if err != nil {
		return err
	}

	_, err = c.send(ctx, &request{
		op:     "register device token",
		method: http.MethodPost,
		path:   pathDeviceToken,
		id:     id,
		token:  token,
		body: &deviceTokenBody{
			Token:    deviceToken,
			Platform: platform,
		},
	})

	return err
}
