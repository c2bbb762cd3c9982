package authclient

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Skotchmaster/pos_terminal/pkg/apiclient"
)

type Client struct {
	api *apiclient.Client
}

func NewClient(api *apiclient.Client) *Client {
	return &Client{api: api}
}

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session is the body of /auth/login and /auth/me. Permissions come as
// "resource:action" strings.
type Session struct {
	AccessToken  string      `json:"accessToken,omitempty"`
	RefreshToken string      `json:"refreshToken,omitempty"`
	UserID       json.Number `json:"userId"`
	Username     string      `json:"username,omitempty"`
	Email        string      `json:"email,omitempty"`
	FirstName    string      `json:"firstName,omitempty"`
	LastName     string      `json:"lastName,omitempty"`
	Phone        string      `json:"phone,omitempty"`
	Role         string      `json:"role,omitempty"`
	RoleID       json.Number `json:"roleId,omitempty"`
	Permissions  []string    `json:"permissions,omitempty"`
	IsActive     *bool       `json:"isActive,omitempty"`
	StoreCode    string      `json:"storeCode,omitempty"`
	LastLoginAt  string      `json:"lastLoginAt,omitempty"`
}

type RefreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

func (c *Client) Login(ctx context.Context, creds Credentials) (*Session, error) {
	var out Session
	req := apiclient.Request{
		Method:          http.MethodPost,
		Path:            "/auth/login",
		Body:            creds,
		Op:              "auth.login",
		SkipAuthRefresh: true,
	}
	if err := c.api.Do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh presents the refresh token as the bearer credential.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	var out RefreshResponse
	req := apiclient.Request{
		Method:          http.MethodPost,
		Path:            "/auth/refresh",
		Header:          http.Header{"Authorization": []string{"Bearer " + refreshToken}},
		Op:              "auth.refresh",
		SkipAuthRefresh: true,
	}
	if err := c.api.Do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Logout(ctx context.Context) error {
	return c.api.Do(ctx, apiclient.Request{
		Method:          http.MethodPost,
		Path:            "/auth/logout",
		Op:              "auth.logout",
		SkipAuthRefresh: true,
	}, nil)
}

func (c *Client) Me(ctx context.Context) (*Session, error) {
	var out Session
	if err := c.api.Get(ctx, "auth.me", "/auth/me", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
