package session

import "time"

// UserProfile mirrors the account snapshot returned by the API. The portal
// never derives these numbers; it only displays and re-fetches them.
type UserProfile struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Number            string `json:"number"`
	Balance           int64  `json:"balance"`
	TotalInvest       int64  `json:"total_invest"`
	TotalWithdraw     int64  `json:"total_withdraw"`
	ActiveInvestments int    `json:"active_investments"`
	Verified          bool   `json:"verified"`
	ReferralCode      string `json:"reff_code"`
	SpinTickets       int    `json:"spin_ticket"`
}

// AppConfig mirrors server-side feature links and withdrawal limits.
type AppConfig struct {
	AppLink         string `json:"link_app"`
	CustomerService string `json:"link_cs"`
	MinWithdraw     int64  `json:"min_withdraw"`
	MaxWithdraw     int64  `json:"max_withdraw"`
	WithdrawCharge  int64  `json:"withdraw_charge"`
}

// Session is the client-local authentication state.
type Session struct {
	Token       string
	ExpiresAt   time.Time
	User        *UserProfile
	Application *AppConfig
}

// IsValid reports whether s carries a token and an expiry that lies after now.
func IsValid(s *Session, now time.Time) bool {
	return s != nil && s.Token != "" && !s.ExpiresAt.IsZero() && now.Before(s.ExpiresAt)
}

// Remaining returns the time left before expiry, or zero once expired.
func (s *Session) Remaining(now time.Time) time.Duration {
	if !IsValid(s, now) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}
