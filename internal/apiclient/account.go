package apiclient

import (
	"context"
	"net/http"

	"github.com/investa-id/investa_portal/internal/session"
)

// ValidateWithdraw checks a withdrawal against the mirrored limits and balance.
// A nil app or user skips the corresponding checks.
func ValidateWithdraw(req WithdrawRequest, user *session.UserProfile, app *session.AppConfig) error {
	if req.Amount <= 0 {
		return &ValidationError{Field: "amount", Message: "jumlah penarikan harus lebih dari 0"}
	}
	if app != nil {
		if app.MinWithdraw > 0 && req.Amount < app.MinWithdraw {
			return &ValidationError{Field: "amount", Message: "jumlah penarikan di bawah minimum"}
		}
		if app.MaxWithdraw > 0 && req.Amount > app.MaxWithdraw {
			return &ValidationError{Field: "amount", Message: "jumlah penarikan melebihi maksimum"}
		}
	}
	if user != nil && req.Amount > user.Balance {
		return &ValidationError{Field: "amount", Message: "saldo tidak mencukupi"}
	}
	return nil
}

// Withdraw submits a withdrawal request.
func (c *Client) Withdraw(ctx context.Context, token string, req WithdrawRequest) (Withdrawal, error) {
	httpReq, err := jsonCall("withdraw", http.MethodPost, "/withdrawals", token, req)
	if err != nil {
		return Withdrawal{}, err
	}
	env, err := c.do(ctx, httpReq)
	if err != nil {
		return Withdrawal{}, err
	}
	var out Withdrawal
	if err := decodeData("withdraw", env, &out); err != nil {
		return Withdrawal{}, err
	}
	out.Message = env.Message
	return out, nil
}

// Referrals fetches the referral code and invited members.
func (c *Client) Referrals(ctx context.Context, token string) (Referrals, error) {
	env, err := c.do(ctx, call{op: "referrals", method: http.MethodGet, path: "/referrals", token: token})
	if err != nil {
		return Referrals{}, err
	}
	var out Referrals
	if err := decodeData("referrals", env, &out); err != nil {
		return Referrals{}, err
	}
	return out, nil
}
