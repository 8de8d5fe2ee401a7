package apiclient

import (
	"context"
	"net/http"
)

// Spin asks the server to spin the wheel once. The prize and the new balance
// come only from the server.
func (c *Client) Spin(ctx context.Context, token string) (SpinResult, error) {
	env, err := c.do(ctx, call{op: "spin", method: http.MethodPost, path: "/spin", token: token})
	if err != nil {
		return SpinResult{}, err
	}
	var data spinData
	if err := decodeData("spin", env, &data); err != nil {
		return SpinResult{}, err
	}
	return SpinResult{
		Code:            data.SpinResult.Code,
		Amount:          data.SpinResult.Amount,
		PreviousBalance: data.BalanceInfo.PreviousBalance,
		CurrentBalance:  data.BalanceInfo.CurrentBalance,
		PrizeAmount:     data.BalanceInfo.PrizeAmount,
		SpinTickets:     data.SpinTicket,
		Message:         env.Message,
	}, nil
}
