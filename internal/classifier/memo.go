package classifier

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
)

// Memo builds the statement line label for a transaction.
//
// Order of preference: "First Last #reference" from metadata, the record
// description, then "<Kind> for <id>".
func Memo(metadata map[string]any, description string, kind models.Kind, externalID string) string {
	if ref := Reference(metadata); ref != "" {
		return ref
	}
	if description != "" {
		return description
	}
	return fmt.Sprintf("%s for %s", kind.Label(), externalID)
}

// Reference formats customer name and reference from metadata, omitting absent parts.
func Reference(metadata map[string]any) string {
	var b strings.Builder
	if customer, ok := metadata["customer"].(map[string]any); ok {
		first := str(customer["firstName"])
		last := str(customer["lastName"])
		b.WriteString(strings.TrimSpace(first + " " + last))
	}
	if ref := str(metadata["reference"]); ref != "" {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString("#" + ref)
	}
	return b.String()
}

// BalanceMemo labels an enriched balance movement: "reference-type- #txid",
// falling back to the payment description and then "<type> for <id>".
func BalanceMemo(metadata map[string]any, description, typeCode, paymentID string) string {
	if ref := str(metadata["reference"]); ref != "" {
		memo := ref + "-" + typeCode
		if txID := str(metadata["transaction_id"]); txID != "" {
			memo += "- #" + txID
		}
		return memo
	}
	if description != "" {
		return description
	}
	return typeCode + " for " + paymentID
}

func str(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}
