// Package classifier turns raw processor records into ExternalTransactions.
//
// It is the only place that inspects raw record shapes. Records without an
// amount or in the "failed" status are skipped, never materialized.
package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/feed"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/interfaces"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
)

const StatusFailed = "failed"

type Classifier struct {
	provider string
	partners interfaces.PartnerDirectory
	logger   *zap.Logger
}

// New returns a classifier resolving owners for provider through partners.
// partners may be nil, in which case no owner is ever attached.
func New(provider string, partners interfaces.PartnerDirectory, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{provider: provider, partners: partners, logger: logger}
}

// Classify maps rec to its canonical shape. The bool is false when the record is skipped.
func (c *Classifier) Classify(ctx context.Context, rec feed.Record) (models.ExternalTransaction, bool, error) {
	var (
		tx  models.ExternalTransaction
		ok  bool
		err error
	)

	switch r := rec.(type) {
	case feed.Payment:
		tx, ok, err = fromSettled(models.KindPayment, r.ID, r.Status, r.SettlementAmount)
		tx.CreatedAt, tx.Description, tx.OwnerOrderID = r.CreatedAt, r.Description, r.OrderID
		tx.Metadata = MetadataMap(r.Metadata)
	case feed.Refund:
		tx, ok, err = fromSettled(models.KindRefund, r.ID, r.Status, r.SettlementAmount)
		tx.CreatedAt, tx.Description, tx.OwnerOrderID = r.CreatedAt, r.Description, r.OrderID
		tx.Metadata = MetadataMap(r.Metadata)
	case feed.Capture:
		tx, ok, err = fromSettled(models.KindCapture, r.ID, r.Status, r.SettlementAmount)
		tx.CreatedAt, tx.Description = r.CreatedAt, r.Description
		tx.Metadata = MetadataMap(r.Metadata)
	case feed.Chargeback:
		tx, ok, err = fromSettled(models.KindChargeback, r.ID, "", r.SettlementAmount)
		tx.CreatedAt = r.CreatedAt
		if r.Reason != nil {
			tx.Description = r.Reason.Description
		}
	case feed.BalanceTransaction:
		tx, ok, err = fromBalance(r)
	default:
		return models.ExternalTransaction{}, false, &models.ValidationError{
			Record: rec.RecordID(),
			Reason: fmt.Sprintf("unsupported record type %T", rec),
		}
	}
	if err != nil || !ok {
		return models.ExternalTransaction{}, false, err
	}

	if tx.Kind != models.KindBalanceMovement {
		tx.Memo = Memo(tx.Metadata, tx.Description, tx.Kind, tx.ExternalID)
		tx.OwnerPartnerID = c.owner(ctx, tx.ExternalID)
	} else {
		tx.Memo = tx.TypeCode
	}
	return tx, true, nil
}

// Owner resolves the local party for an external id. Absence is not an error.
func (c *Classifier) Owner(ctx context.Context, externalID string) string {
	return c.owner(ctx, externalID)
}

func (c *Classifier) owner(ctx context.Context, externalID string) string {
	if c.partners == nil || externalID == "" {
		return ""
	}
	partnerID, found, err := c.partners.FindTransactionOwner(ctx, c.provider, externalID)
	if err != nil {
		c.logger.Warn("owner lookup failed", zap.String("external_id", externalID), zap.Error(err))
		return ""
	}
	if !found {
		return ""
	}
	return partnerID
}

func fromSettled(kind models.Kind, id, status string, amount *feed.Amount) (models.ExternalTransaction, bool, error) {
	if amount == nil || amount.Value == "" || status == StatusFailed {
		return models.ExternalTransaction{}, false, nil
	}
	value, err := ParseAmount(id, amount.Value)
	if err != nil {
		return models.ExternalTransaction{}, false, err
	}
	if kind.Outflow() {
		value = value.Abs().Neg()
	} else {
		value = value.Abs()
	}
	return models.ExternalTransaction{
		ExternalID:       id,
		Kind:             kind,
		TypeCode:         string(kind),
		Status:           status,
		SettlementAmount: models.Money{Value: value, Currency: amount.Currency},
	}, true, nil
}

func fromBalance(bt feed.BalanceTransaction) (models.ExternalTransaction, bool, error) {
	if bt.InitialAmount == nil || bt.InitialAmount.Value == "" {
		return models.ExternalTransaction{}, false, nil
	}
	value, err := ParseAmount(bt.ID, bt.InitialAmount.Value)
	if err != nil {
		return models.ExternalTransaction{}, false, err
	}
	ctxFields := contextStrings(bt.Context)
	tx := models.ExternalTransaction{
		ExternalID:       bt.ID,
		Kind:             models.KindBalanceMovement,
		TypeCode:         bt.Type,
		CreatedAt:        bt.CreatedAt,
		SettlementAmount: models.Money{Value: value, Currency: bt.InitialAmount.Currency},
		Context:          ctxFields,
		TransactionID:    TransactionID(bt.Type, ctxFields),
	}
	if bt.Deductions != nil && bt.Deductions.Value != "" {
		d, err := ParseAmount(bt.ID, bt.Deductions.Value)
		if err != nil {
			return models.ExternalTransaction{}, false, err
		}
		tx.Deductions = &models.Money{Value: d, Currency: bt.Deductions.Currency}
	}
	return tx, true, nil
}

// ParseAmount parses the feed's decimal string representation.
func ParseAmount(recordID, value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, &models.ValidationError{Record: recordID, Reason: fmt.Sprintf("invalid amount %q", value)}
	}
	return d, nil
}

// MetadataMap returns metadata when it is a non-empty JSON object, nil otherwise.
func MetadataMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok && len(m) > 0 {
		return m
	}
	return nil
}

func contextStrings(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch s := v.(type) {
		case string:
			out[k] = s
		case nil:
		default:
			out[k] = fmt.Sprint(s)
		}
	}
	return out
}
