package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the closed set of external record families the feed produces.
type Kind string

const (
	KindPayment         Kind = "payment"
	KindRefund          Kind = "refund"
	KindCapture         Kind = "capture"
	KindChargeback      Kind = "chargeback"
	KindBalanceMovement Kind = "balance-movement"
)

// Label is the human form of the kind used in synthesized memos.
func (k Kind) Label() string {
	switch k {
	case KindPayment:
		return "Payment"
	case KindRefund:
		return "Refund"
	case KindCapture:
		return "Capture"
	case KindChargeback:
		return "Chargeback"
	case KindBalanceMovement:
		return "Balance movement"
	default:
		return string(k)
	}
}

// Outflow reports whether money leaves the processor balance for this kind.
func (k Kind) Outflow() bool {
	return k == KindRefund || k == KindChargeback
}

// Money is an amount in a given currency as reported by the processor.
type Money struct {
	Value    decimal.Decimal `json:"value"`
	Currency string          `json:"currency"`
}

// ExternalTransaction is the canonical, classified shape of a feed record.
// It is produced once by the classifier and never mutated afterwards.
type ExternalTransaction struct {
	ExternalID       string
	Kind             Kind
	TypeCode         string
	CreatedAt        time.Time
	SettlementAmount Money
	Status           string
	Metadata         map[string]any
	OwnerOrderID     string

	// TransactionID is the type-specific sub id of a balance movement
	// (payment id, refund id, transfer id, ...). Empty for unknown types.
	TransactionID string
	// Deductions is the fee part withheld on a balance movement, if any.
	Deductions *Money
	// Context is the raw type-specific context of a balance movement.
	Context map[string]string

	Description    string
	Memo           string
	OwnerPartnerID string
}

// Info returns the json info attached to ledger lines built from this transaction.
func (t ExternalTransaction) Info() map[string]any {
	info := make(map[string]any, len(t.Metadata)+1)
	for k, v := range t.Metadata {
		info[k] = v
	}
	if t.OwnerOrderID != "" {
		info["order_id"] = t.OwnerOrderID
	}
	if len(info) == 0 {
		return nil
	}
	return info
}
