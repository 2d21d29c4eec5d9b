package classifier

// contextField maps a balance transaction type to the context key holding its sub id.
var contextField = map[string]string{
	"payment":                     "paymentId",
	"unauthorized-direct-debit":   "paymentId",
	"failed-payment":              "paymentId",
	"chargeback-reversal":         "paymentId",
	"application-fee":             "paymentId",
	"split-payment":               "paymentId",
	"capture":                     "captureId",
	"refund":                      "refundId",
	"returned-refund":             "refundId",
	"platform-payment-refund":     "refundId",
	"chargeback":                  "chargebackId",
	"platform-payment-chargeback": "chargebackId",
	"outgoing-transfer":           "transferId",
	"canceled-outgoing-transfer":  "transferId",
	"returned-transfer":           "transferId",
	"invoice-compensation":        "invoiceId",
}

// TransactionID derives the canonical id of a balance movement from its context.
// Unknown types yield an empty id.
func TransactionID(typeCode string, context map[string]string) string {
	field, ok := contextField[typeCode]
	if !ok {
		return ""
	}
	return context[field]
}
