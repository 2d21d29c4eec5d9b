package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/pager"
)

type link struct {
	Href string `json:"href"`
}

type envelope struct {
	Count    int                        `json:"count"`
	Embedded map[string]json.RawMessage `json:"_embedded"`
	Links    struct {
		Next *link `json:"next"`
	} `json:"_links"`
}

// pageFetcher decodes the list stored under key in the _embedded object.
func pageFetcher[T any](c *Client, key string) pager.FetchFunc[T] {
	return func(ctx context.Context, href string) (pager.Page[T], error) {
		var env envelope
		if err := c.get(ctx, href, &env); err != nil {
			return pager.Page[T]{}, err
		}

		var page pager.Page[T]
		if env.Links.Next != nil {
			page.Next = env.Links.Next.Href
		}
		if env.Count == 0 {
			return page, nil
		}
		raw, ok := env.Embedded[key]
		if !ok {
			return pager.Page[T]{}, fmt.Errorf("decode %s: missing _embedded.%s", href, key)
		}
		if err := json.Unmarshal(raw, &page.Items); err != nil {
			return pager.Page[T]{}, fmt.Errorf("decode %s: %w", href, err)
		}
		return page, nil
	}
}

func withLimit(path string, limit int) string {
	if limit <= 0 {
		return path
	}
	return fmt.Sprintf("%s?limit=%d", path, limit)
}

// Settlements walks the settlement list, newest page first, until stop matches.
func (c *Client) Settlements(ctx context.Context, limit int, stop func(Settlement) bool) ([]Settlement, error) {
	return pager.Walk(ctx, withLimit("settlements", limit), pageFetcher[Settlement](c, "settlements"), stop)
}

func (c *Client) SettlementPayments(ctx context.Context, settlementID string) ([]Payment, error) {
	path := fmt.Sprintf("settlements/%s/payments", url.PathEscape(settlementID))
	return pager.Walk(ctx, path, pageFetcher[Payment](c, "payments"), nil)
}

func (c *Client) SettlementRefunds(ctx context.Context, settlementID string) ([]Refund, error) {
	path := fmt.Sprintf("settlements/%s/refunds", url.PathEscape(settlementID))
	return pager.Walk(ctx, path, pageFetcher[Refund](c, "refunds"), nil)
}

func (c *Client) SettlementCaptures(ctx context.Context, settlementID string) ([]Capture, error) {
	path := fmt.Sprintf("settlements/%s/captures", url.PathEscape(settlementID))
	return pager.Walk(ctx, path, pageFetcher[Capture](c, "captures"), nil)
}

func (c *Client) SettlementChargebacks(ctx context.Context, settlementID string) ([]Chargeback, error) {
	path := fmt.Sprintf("settlements/%s/chargebacks", url.PathEscape(settlementID))
	return pager.Walk(ctx, path, pageFetcher[Chargeback](c, "chargebacks"), nil)
}

func (c *Client) Balances(ctx context.Context) ([]Balance, error) {
	return pager.Walk(ctx, "balances", pageFetcher[Balance](c, "balances"), nil)
}

// BalanceTransactions walks a balance's movements until stop matches.
func (c *Client) BalanceTransactions(ctx context.Context, balanceID string, limit int, stop func(BalanceTransaction) bool) ([]BalanceTransaction, error) {
	path := withLimit(fmt.Sprintf("balances/%s/transactions", url.PathEscape(balanceID)), limit)
	return pager.Walk(ctx, path, pageFetcher[BalanceTransaction](c, "balance_transactions"), stop)
}

// Payment looks up one payment. A missing payment returns ErrNotFound.
func (c *Client) Payment(ctx context.Context, id string) (*Payment, error) {
	var p Payment
	if err := c.get(ctx, "payments/"+url.PathEscape(id), &p); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Order looks up one order. A missing order returns ErrNotFound.
func (c *Client) Order(ctx context.Context, id string) (*Order, error) {
	var o Order
	if err := c.get(ctx, "orders/"+url.PathEscape(id), &o); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}
