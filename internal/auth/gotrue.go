package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Identity is the provider's view of a user.
type Identity struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is a provider-issued token pair. AccessToken is empty when the
// provider requires email confirmation before the first sign-in.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    time.Time `json:"-"`
	User         Identity  `json:"user"`
}

// Provider is the external email/password identity service.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (*Session, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignOut(ctx context.Context, accessToken string) error
	UpdateProfile(ctx context.Context, accessToken string, metadata map[string]any) error
	ResetPassword(ctx context.Context, email string) error
	GetUser(ctx context.Context, accessToken string) (*Identity, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
}

// GoTrueClient talks to a GoTrue-compatible auth server (/auth/v1).
type GoTrueClient struct {
	client *resty.Client
}

func NewGoTrueClient(baseURL, apiKey string) *GoTrueClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")+"/auth/v1").
		SetTimeout(30*time.Second).
		SetHeader("apikey", apiKey).
		SetHeader("Content-Type", "application/json")
	return &GoTrueClient{client: client}
}

type apiError struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *GoTrueClient) SignUp(ctx context.Context, email, password string) (*Session, error) {
	var raw struct {
		Session
		// Without auto-confirm the body is the bare user.
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&raw).
		SetError(&apiError{}).
		Post("/signup")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	sess := raw.Session
	if sess.User.ID == "" {
		sess.User = Identity{ID: raw.ID, Email: raw.Email}
	}
	stampExpiry(&sess)
	return &sess, nil
}

func (c *GoTrueClient) SignIn(ctx context.Context, email, password string) (*Session, error) {
	return c.token(ctx, "password", map[string]string{"email": email, "password": password})
}

func (c *GoTrueClient) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	return c.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

func (c *GoTrueClient) token(ctx context.Context, grant string, body map[string]string) (*Session, error) {
	var sess Session
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("grant_type", grant).
		SetBody(body).
		SetResult(&sess).
		SetError(&apiError{}).
		Post("/token")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	stampExpiry(&sess)
	return &sess, nil
}

func (c *GoTrueClient) SignOut(ctx context.Context, accessToken string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetError(&apiError{}).
		Post("/logout")
	return check(resp, err)
}

func (c *GoTrueClient) UpdateProfile(ctx context.Context, accessToken string, metadata map[string]any) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(map[string]any{"data": metadata}).
		SetError(&apiError{}).
		Put("/user")
	return check(resp, err)
}

func (c *GoTrueClient) ResetPassword(ctx context.Context, email string) error {
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"email": email}).
		SetError(&apiError{}).
		Post("/recover")
	return check(resp, err)
}

func (c *GoTrueClient) GetUser(ctx context.Context, accessToken string) (*Identity, error) {
	var id Identity
	resp, err := c.client.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&id).
		SetError(&apiError{}).
		Get("/user")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &id, nil
}

func stampExpiry(s *Session) {
	if s.ExpiresIn > 0 {
		s.ExpiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second)
	}
}

// check turns a transport failure or a non-2xx response into one of the
// package's error categories.
func check(resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if resp.IsSuccess() {
		return nil
	}
	body, _ := resp.Error().(*apiError)
	if body == nil {
		body = &apiError{}
	}
	return classify(resp.StatusCode(), body)
}

func classify(status int, body *apiError) error {
	code := body.ErrorCode
	if code == "" {
		if s, ok := body.Code.(string); ok {
			code = s
		} else {
			code = body.Error
		}
	}
	msg := firstNonEmpty(body.Msg, body.Message, body.ErrorDescription, body.Error)
	lower := strings.ToLower(msg)

	var category error
	switch {
	case code == "user_already_exists" || code == "email_exists" || strings.Contains(lower, "already registered"):
		category = ErrDuplicateIdentity
	case code == "weak_password" || strings.Contains(lower, "password should be"):
		category = ErrWeakCredential
	case code == "invalid_credentials" || code == "invalid_grant" || strings.Contains(lower, "invalid login credentials"):
		category = ErrInvalidCredential
	case status == http.StatusTooManyRequests || strings.HasPrefix(code, "over_"):
		category = ErrRateLimited
	case code == "email_address_invalid" || strings.Contains(lower, "unable to validate email"):
		category = ErrInvalidEmail
	case status >= 500:
		category = ErrNetwork
	}

	perr := &ProviderError{Status: status, Code: code, Message: msg}
	if category == nil {
		return perr
	}
	return fmt.Errorf("%w: %w", category, perr)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
