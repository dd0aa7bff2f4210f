package trustsvc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/jarcoal/httpmock"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/recoverykit/account"
	"github.com/stretchr/testify/require"
)

const (
	testURL     = "http://trust.test"
	testAccount = account.ID("acct-1")
)

var testProof = &account.HwProofOfPossession{
	Token:     "hw-token",
	ExpiresAt: time.Unix(1_800_000_000, 0),
}

func newTestClient(t *testing.T) *Client {
	t.Helper()

	c := New(&Config{BaseURL: testURL, UserAgent: "recoverykit-test"})
	httpmock.ActivateNonDefault(c.http.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	c.SetSession(testAccount, account.ScopeGlobal, Tokens{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
	})

	return c
}

func url(path string) string {
	return testURL + "/api/accounts/" + string(testAccount) + path
}

func jsonResponder(t *testing.T, status int,
	body interface{}) httpmock.Responder {

	t.Helper()

	r, err := httpmock.NewJsonResponder(status, body)
	require.NoError(t, err)

	return r
}

func newKey(t *testing.T) *btcec.PrivateKey {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	return key
}

// TestAppAuth checks the challenge-response exchange and token storage.
func TestAppAuth(t *testing.T) {
	c := newTestClient(t)
	key := newKey(t)
	challenge := []byte("prove it")

	httpmock.RegisterResponder(http.MethodPost, url("/auth/challenge"),
		func(req *http.Request) (*http.Response, error) {
			var body challengeRequest
			err := json.NewDecoder(req.Body).Decode(&body)
			require.NoError(t, err)
			require.Equal(
				t, account.EncodePubKey(key.PubKey()),
				body.AuthKey,
			)
			require.Equal(t, account.ScopeRecovery, body.Scope)

			return httpmock.NewJsonResponse(200, challengeResponse{
				Session:   "s1",
				Challenge: challenge,
			})
		},
	)
	httpmock.RegisterResponder(http.MethodPost, url("/auth/respond"),
		func(req *http.Request) (*http.Response, error) {
			var body challengeAnswer
			err := json.NewDecoder(req.Body).Decode(&body)
			require.NoError(t, err)

			sig, err := ecdsa.ParseDERSignature(body.Signature)
			require.NoError(t, err)
			require.True(t, sig.Verify(
				chainhash.HashB(challenge), key.PubKey(),
			))

			return httpmock.NewJsonResponse(200, Tokens{
				AccessToken:  "access-2",
				RefreshToken: "refresh-2",
			})
		},
	)

	tokens, err := c.AppAuth(
		context.Background(), testAccount, key, account.ScopeRecovery,
	)
	require.NoError(t, err)
	require.Equal(t, "access-2", tokens.AccessToken)
	require.Equal(t, "refresh-2",
		c.Session(testAccount, account.ScopeRecovery).UnwrapOr(
			Tokens{},
		).RefreshToken)
}

// TestAppAuthRejected checks that a rejected authentication surfaces as
// AuthProtocolError.
func TestAppAuthRejected(t *testing.T) {
	for _, status := range []int{401, 404} {
		c := newTestClient(t)
		httpmock.RegisterResponder(http.MethodPost,
			url("/auth/challenge"),
			jsonResponder(t, status, errorResponse{
				Code: "RECOVERY_CANCELLED",
			}),
		)

		_, err := c.AppAuth(
			context.Background(), testAccount, newKey(t),
			account.ScopeGlobal,
		)

		var authErr *AuthProtocolError
		require.ErrorAs(t, err, &authErr)
		require.Equal(t, status, authErr.Status)
		require.Equal(t, "RECOVERY_CANCELLED", authErr.Code)
	}
}

// TestRefreshAccessToken checks refresh with and without a session.
func TestRefreshAccessToken(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	err := c.RefreshAccessToken(ctx, testAccount, account.ScopeRecovery)
	require.ErrorIs(t, err, ErrNoSession)

	httpmock.RegisterResponder(http.MethodPost, url("/auth/refresh"),
		func(req *http.Request) (*http.Response, error) {
			var body refreshRequest
			err := json.NewDecoder(req.Body).Decode(&body)
			require.NoError(t, err)
			require.Equal(t, "refresh-1", body.RefreshToken)

			return httpmock.NewJsonResponse(200, Tokens{
				AccessToken:  "access-3",
				RefreshToken: "refresh-3",
			})
		},
	)

	require.NoError(t, c.RefreshAccessToken(
		ctx, testAccount, account.ScopeGlobal,
	))
	require.Equal(t, "access-3",
		c.Session(testAccount, account.ScopeGlobal).UnwrapOr(
			Tokens{},
		).AccessToken)
}

// TestGetActiveRecovery checks the found, absent and malformed cases.
func TestGetActiveRecovery(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	httpmock.RegisterResponder(http.MethodGet, url("/delay-notify"),
		func(req *http.Request) (*http.Response, error) {
			require.Equal(
				t, "Bearer access-1",
				req.Header.Get("Authorization"),
			)

			return httpmock.NewJsonResponse(200, recoveryResponse{
				LostFactor: "hardware",
				DelayStart: start,
				DelayEnd:   start.Add(7 * 24 * time.Hour),
			})
		},
	)

	rec, err := c.GetActiveRecovery(ctx, testAccount)
	require.NoError(t, err)
	require.True(t, rec.IsSome())
	rec.WhenSome(func(r ActiveRecovery) {
		require.Equal(t, account.FactorHardware, r.LostFactor)
		require.True(t, r.DelayEnd.Equal(start.Add(7*24*time.Hour)))
	})

	httpmock.RegisterResponder(http.MethodGet, url("/delay-notify"),
		jsonResponder(t, 404, errorResponse{Code: "NOT_FOUND"}),
	)
	rec, err = c.GetActiveRecovery(ctx, testAccount)
	require.NoError(t, err)
	require.True(t, rec.IsNone())

	httpmock.RegisterResponder(http.MethodGet, url("/delay-notify"),
		jsonResponder(t, 200, recoveryResponse{LostFactor: "phone"}),
	)
	_, err = c.GetActiveRecovery(ctx, testAccount)
	require.Error(t, err)
}

// TestSpendingKeyset checks create and activate, including the hardware
// proof header.
func TestSpendingKeyset(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	appKey := newKey(t).PubKey()
	hwKey := newKey(t).PubKey()
	serverKey := newKey(t).PubKey()

	httpmock.RegisterResponder(http.MethodPost, url("/spending-keysets"),
		func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "hw-token", req.Header.Get(hwProofHeader))

			var body createKeysetBody
			err := json.NewDecoder(req.Body).Decode(&body)
			require.NoError(t, err)
			require.Equal(t, account.NetworkSignet, body.Network)

			return httpmock.NewJsonResponse(200, createKeysetResponse{
				KeysetID:  "ks-9",
				ServerKey: account.EncodePubKey(serverKey),
			})
		},
	)
	httpmock.RegisterResponder(http.MethodPut,
		url("/spending-keysets/ks-9"),
		httpmock.NewStringResponder(204, ""),
	)

	keyset, err := c.CreateSpendingKeyset(
		ctx, testAccount, account.NetworkSignet, appKey, hwKey,
		testProof,
	)
	require.NoError(t, err)
	require.Equal(t, "ks-9", keyset.ID)
	require.True(t, serverKey.IsEqual(keyset.Server))

	require.NoError(t, c.ActivateSpendingKeyset(
		ctx, testAccount, keyset.ID, testProof,
	))
	require.Equal(t, 2, httpmock.GetTotalCallCount())
}

// TestCancelRecovery checks the three cancellation outcomes.
func TestCancelRecovery(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	httpmock.RegisterResponder(http.MethodDelete, url("/delay-notify"),
		httpmock.NewStringResponder(200, "{}"),
	)
	outcome, err := c.CancelRecovery(
		ctx, testAccount, fn.None[account.HwProofOfPossession](),
	)
	require.NoError(t, err)
	require.Equal(t, CancelAccepted, outcome)

	httpmock.RegisterResponder(http.MethodDelete, url("/delay-notify"),
		jsonResponder(t, 403, errorResponse{
			Code: codeCommsVerificationRequired,
		}),
	)
	outcome, err = c.CancelRecovery(ctx, testAccount, fn.Some(*testProof))
	require.NoError(t, err)
	require.Equal(t, CancelNeedsCommsVerification, outcome)

	httpmock.RegisterResponder(http.MethodDelete, url("/delay-notify"),
		jsonResponder(t, 409, errorResponse{
			Code:    "CONFLICT",
			Message: "recovery already completing",
		}),
	)
	_, err = c.CancelRecovery(ctx, testAccount, fn.Some(*testProof))

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "CONFLICT", apiErr.Code)
	require.False(t, IsTransient(err))
}

// TestRecoveryCallsRejected checks that the recovery scoped calls report an
// authentication rejection as *AuthProtocolError rather than a plain
// *APIError.
func TestRecoveryCallsRejected(t *testing.T) {
	key := newKey(t)

	cases := []struct {
		name   string
		method string
		path   string
		status int
		call   func(c *Client) error
	}{{
		name:   "rotate auth keys",
		method: http.MethodPost,
		path:   "/authentication-keys",
		status: http.StatusForbidden,
		call: func(c *Client) error {
			return c.RotateAuthKeys(
				context.Background(), testAccount,
				&RotateAuthKeysRequest{
					Challenge:          []byte("c"),
					HwSignature:        []byte("s"),
					NewAppAuthKey:      key.PubKey(),
					NewRecoveryAuthKey: key.PubKey(),
				},
			)
		},
	}, {
		name:   "create keyset",
		method: http.MethodPost,
		path:   "/spending-keysets",
		status: http.StatusUnauthorized,
		call: func(c *Client) error {
			_, err := c.CreateSpendingKeyset(
				context.Background(), testAccount,
				account.NetworkSignet, key.PubKey(),
				key.PubKey(), testProof,
			)
			return err
		},
	}, {
		name:   "activate keyset",
		method: http.MethodPut,
		path:   "/spending-keysets/ks-1",
		status: http.StatusForbidden,
		call: func(c *Client) error {
			return c.ActivateSpendingKeyset(
				context.Background(), testAccount, "ks-1",
				testProof,
			)
		},
	}, {
		name:   "cancel recovery",
		method: http.MethodDelete,
		path:   "/delay-notify",
		status: http.StatusForbidden,
		call: func(c *Client) error {
			_, err := c.CancelRecovery(
				context.Background(), testAccount,
				fn.Some(*testProof),
			)
			return err
		},
	}}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestClient(t)
			httpmock.RegisterResponder(tc.method, url(tc.path),
				jsonResponder(t, tc.status, errorResponse{
					Code: "NOT_RECOVERING",
				}),
			)

			err := tc.call(c)

			var authErr *AuthProtocolError
			require.ErrorAs(t, err, &authErr)
			require.Equal(t, tc.status, authErr.Status)
			require.Equal(t, "NOT_RECOVERING", authErr.Code)
			require.False(t, IsTransient(err))
		})
	}
}

// TestTransientErrors checks that server errors and transport failures are
// NetworkErrors, and that context cancellation is not.
func TestTransientErrors(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, url("/device-token"),
		httpmock.NewStringResponder(503, "unavailable"),
	)
	err := c.RegisterDeviceToken(
		context.Background(), testAccount, "tok", PlatformAPNS,
	)
	require.True(t, IsTransient(err))

	httpmock.RegisterResponder(http.MethodPost, url("/device-token"),
		httpmock.NewErrorResponder(errors.New("connection reset")),
	)
	err = c.RegisterDeviceToken(
		context.Background(), testAccount, "tok", PlatformFCM,
	)
	require.True(t, IsTransient(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = c.RegisterDeviceToken(ctx, testAccount, "tok", PlatformFCM)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, IsTransient(err))

	_, err = New(&Config{BaseURL: testURL}).GetActiveRecovery(
		context.Background(), testAccount,
	)
	require.ErrorIs(t, err, ErrNoSession)
}
