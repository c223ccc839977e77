package pds

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/bluesky-social/indigo/atproto/atclient"
	"github.com/bluesky-social/indigo/atproto/syntax"
)

// Credential errors are returned before any request reaches the PDS
var (
	ErrMissingHost     = errors.New("host is required")
	ErrMissingDID      = errors.New("did is required")
	ErrMissingToken    = errors.New("accessToken is required")
	ErrMissingHandle   = errors.New("handle is required")
	ErrMissingPassword = errors.New("password is required")
)

// Credentials identify the author's account on its PDS.
// An AccessToken together with DID skips the login round trip; otherwise Handle and Password
// open a new session.
type Credentials struct {
	Host        string
	DID         string
	AccessToken string
	Handle      string
	Password    string
}

// UsesAccessToken reports whether Connect will reuse an existing token
func (c Credentials) UsesAccessToken() bool {
	return c.AccessToken != ""
}

// Connect returns a client authenticated as the credentials' account
func Connect(ctx context.Context, creds Credentials) (Client, error) {
	if creds.UsesAccessToken() {
		return NewFromAccessToken(creds.Host, creds.DID, creds.AccessToken)
	}
	return NewFromPasswordAuth(ctx, creds.Host, creds.Handle, creds.Password)
}

// NewFromPasswordAuth opens a session with com.atproto.server.createSession and
// authenticates later calls with its Bearer token.
func NewFromPasswordAuth(ctx context.Context, host, handle, password string) (Client, error) {
	switch {
	case host == "":
		return nil, ErrMissingHost
	case handle == "":
		return nil, ErrMissingHandle
	case password == "":
		return nil, ErrMissingPassword
	}

	apiClient, err := atclient.LoginWithPasswordHost(ctx, host, handle, password, "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to log in as %s: %w", handle, err)
	}
	if apiClient.AccountDID == nil || apiClient.AccountDID.String() == "" {
		return nil, fmt.Errorf("PDS session for %s did not return an account DID", handle)
	}

	return &client{
		apiClient: apiClient,
		did:       apiClient.AccountDID.String(),
		host:      host,
	}, nil
}

// NewFromAccessToken reuses a Bearer token the author already holds
func NewFromAccessToken(host, did, accessToken string) (Client, error) {
	switch {
	case host == "":
		return nil, ErrMissingHost
	case did == "":
		return nil, ErrMissingDID
	case accessToken == "":
		return nil, ErrMissingToken
	}
	if _, err := syntax.ParseDID(did); err != nil {
		return nil, fmt.Errorf("invalid did %q: %w", did, err)
	}

	apiClient := atclient.NewAPIClient(host)
	apiClient.Auth = &bearerAuth{token: accessToken}

	return &client{
		apiClient: apiClient,
		did:       did,
		host:      host,
	}, nil
}

// bearerAuth signs requests with a static access token
type bearerAuth struct {
	token string
}

var _ atclient.AuthMethod = (*bearerAuth)(nil)

func (b *bearerAuth) DoWithAuth(c *http.Client, req *http.Request, _ syntax.NSID) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+b.token)
	return c.Do(req)
}
