package apiclient

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/investa-id/investa_portal/internal/session"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Timestamp decodes the API's ISO timestamps. Values without a zone are read as UTC.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognised format %q", raw)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// Profile is the account snapshot returned by auth and session-check endpoints.
type Profile struct {
	User        *session.UserProfile `json:"user"`
	Application *session.AppConfig   `json:"application"`
}

// AuthResult is a successful login or registration.
type AuthResult struct {
	Token     string    `json:"token"`
	ExpiresAt Timestamp `json:"expired_at"`
	Profile
	Message string `json:"-"`
}

// Product is an investment product as listed by the API.
type Product struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Price       int64  `json:"price"`
	Duration    int    `json:"duration"`
	DailyProfit int64  `json:"daily_profit"`
	TotalProfit int64  `json:"total_profit"`
	Purchasable bool   `json:"purchasable"`
}

// InvestRequest orders a product.
type InvestRequest struct {
	ProductID      int64  `json:"product_id"`
	PaymentMethod  string `json:"payment_method"`
	PaymentChannel string `json:"payment_channel"`
}

// Order is a created investment awaiting payment.
type Order struct {
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Message string `json:"-"`
}

// Payment is the server-side state of a pending payment.
type Payment struct {
	OrderID        string          `json:"order_id"`
	Amount         int64           `json:"amount"`
	PaymentMethod  string          `json:"payment_method"`
	PaymentChannel string          `json:"payment_channel"`
	PaymentCode    string          `json:"payment_code"`
	ExpiredAt      Timestamp       `json:"expired_at"`
	Product        json.RawMessage `json:"product,omitempty"`
	Status         string          `json:"status,omitempty"`
}

// Paid reports whether the server confirmed the payment.
func (p Payment) Paid() bool {
	switch strings.ToLower(p.Status) {
	case "paid", "success", "settlement", "completed":
		return true
	default:
		return false
	}
}

// SpinResult is the server-confirmed outcome of one wheel spin.
type SpinResult struct {
	Code            string
	Amount          int64
	PreviousBalance int64
	CurrentBalance  int64
	PrizeAmount     int64
	// SpinTickets is the remaining ticket count when the server reports it.
	SpinTickets *int
	Message     string
}

type spinData struct {
	SpinResult struct {
		Code   string `json:"code"`
		Amount int64  `json:"amount"`
	} `json:"spin_result"`
	BalanceInfo struct {
		PreviousBalance int64 `json:"previous_balance"`
		CurrentBalance  int64 `json:"current_balance"`
		PrizeAmount     int64 `json:"prize_amount"`
	} `json:"balance_info"`
	SpinTicket *int `json:"spin_ticket"`
}

// WithdrawRequest asks for a payout to the user's bank account.
type WithdrawRequest struct {
	Amount    int64 `json:"amount"`
	BankAccID int64 `json:"bank_account_id"`
}

// Withdrawal is the server's receipt for a withdrawal request.
type Withdrawal struct {
	ID      int64  `json:"id"`
	Amount  int64  `json:"amount"`
	Charge  int64  `json:"charge"`
	Status  string `json:"status"`
	Message string `json:"-"`
}

// ReferralMember is one invited account.
type ReferralMember struct {
	Name       string `json:"name"`
	Number     string `json:"number"`
	Level      int    `json:"level"`
	Commission int64  `json:"commission"`
}

// Referrals lists the user's referral tree as reported by the server.
type Referrals struct {
	Code    string           `json:"reff_code"`
	Link    string           `json:"reff_link"`
	Members []ReferralMember `json:"members"`
}
