package apiclient

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// Products lists investment products.
func (c *Client) Products(ctx context.Context, token string) ([]Product, error) {
	env, err := c.do(ctx, call{op: "products", method: http.MethodGet, path: "/products", token: token})
	if err != nil {
		return nil, err
	}
	var out []Product
	if err := decodeData("products", env, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Invest places an investment order and returns the order awaiting payment.
func (c *Client) Invest(ctx context.Context, token string, req InvestRequest) (Order, error) {
	if req.ProductID <= 0 {
		return Order{}, &ValidationError{Field: "product_id", Message: "produk wajib dipilih"}
	}
	if req.PaymentMethod == "" {
		return Order{}, &ValidationError{Field: "payment_method", Message: "metode pembayaran wajib dipilih"}
	}
	httpReq, err := jsonCall("invest", http.MethodPost, "/investments", token, req)
	if err != nil {
		return Order{}, err
	}
	env, err := c.do(ctx, httpReq)
	if err != nil {
		return Order{}, err
	}
	var out Order
	if err := decodeData("invest", env, &out); err != nil {
		return Order{}, err
	}
	if out.OrderID == "" {
		return Order{}, &TransientError{Op: "invest", Err: errors.New("response without order_id")}
	}
	out.Message = env.Message
	return out, nil
}

// PaymentStatus fetches the authoritative state of a pending payment.
func (c *Client) PaymentStatus(ctx context.Context, token, orderID string) (Payment, error) {
	if orderID == "" {
		return Payment{}, &ValidationError{Field: "order_id", Message: "order id wajib diisi"}
	}
	env, err := c.do(ctx, call{
		op:     "payment_status",
		method: http.MethodGet,
		path:   "/payments/" + url.PathEscape(orderID),
		token:  token,
	})
	if err != nil {
		return Payment{}, err
	}
	var out Payment
	if err := decodeData("payment_status", env, &out); err != nil {
		return Payment{}, err
	}
	if out.ExpiredAt.IsZero() {
		return Payment{}, &TransientError{Op: "payment_status", Err: errors.New("response without expired_at")}
	}
	if out.OrderID == "" {
		out.OrderID = orderID
	}
	return out, nil
}
