package apiclient

import (
	"context"
	"errors"
	"net/http"
)

// LoginRequest carries credentials for POST /login.
type LoginRequest struct {
	Number   string `json:"number"`
	Password string `json:"password"`
}

// RegisterRequest carries sign-up data for POST /register.
type RegisterRequest struct {
	Name            string `json:"name"`
	Number          string `json:"number"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirmation"`
	ReferralCode    string `json:"reff_code,omitempty"`
}

// Validate checks the fields the API would otherwise reject.
func (r LoginRequest) Validate() error {
	if r.Number == "" {
		return &ValidationError{Field: "number", Message: "nomor telepon wajib diisi"}
	}
	if r.Password == "" {
		return &ValidationError{Field: "password", Message: "kata sandi wajib diisi"}
	}
	return nil
}

// Validate checks the fields the API would otherwise reject.
func (r RegisterRequest) Validate() error {
	if r.Name == "" {
		return &ValidationError{Field: "name", Message: "nama wajib diisi"}
	}
	if err := (LoginRequest{Number: r.Number, Password: r.Password}).Validate(); err != nil {
		return err
	}
	if r.PasswordConfirm != r.Password {
		return &ValidationError{Field: "password_confirmation", Message: "konfirmasi kata sandi tidak cocok"}
	}
	return nil
}

// Login exchanges credentials for a token and profile.
func (c *Client) Login(ctx context.Context, req LoginRequest) (AuthResult, error) {
	if err := req.Validate(); err != nil {
		return AuthResult{}, err
	}
	return c.authenticate(ctx, "login", "/login", req)
}

// Register creates an account and signs it in.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (AuthResult, error) {
	if err := req.Validate(); err != nil {
		return AuthResult{}, err
	}
	return c.authenticate(ctx, "register", "/register", req)
}

func (c *Client) authenticate(ctx context.Context, op, path string, payload any) (AuthResult, error) {
	req, err := jsonCall(op, http.MethodPost, path, "", payload)
	if err != nil {
		return AuthResult{}, err
	}
	env, err := c.do(ctx, req)
	if err != nil {
		return AuthResult{}, err
	}
	var out AuthResult
	if err := decodeData(op, env, &out); err != nil {
		return AuthResult{}, err
	}
	if out.Token == "" {
		return AuthResult{}, &TransientError{Op: op, Err: errors.New("response without token")}
	}
	out.Message = env.Message
	return out, nil
}

// UserInfo re-fetches the profile for an existing session. Any response that
// does not prove the session is alive yields ErrSessionInvalid.
func (c *Client) UserInfo(ctx context.Context, token string) (Profile, error) {
	env, err := c.do(ctx, call{
		op:             "user_info",
		method:         http.MethodGet,
		path:           "/user/info",
		token:          token,
		requireSuccess: true,
	})
	if err != nil {
		return Profile{}, err
	}
	var out Profile
	if err := decodeData("user_info", env, &out); err != nil {
		return Profile{}, err
	}
	return out, nil
}
