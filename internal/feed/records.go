package feed

import (
	"time"
)

// Amount is the processor's string-encoded money value.
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Record is one raw transaction record. The set of implementations is closed;
// the classifier switches over it.
type Record interface {
	RecordID() string
	record()
}

type Payment struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
	Amount           *Amount   `json:"amount"`
	SettlementAmount *Amount   `json:"settlementAmount"`
	Description      string    `json:"description"`
	Metadata         any       `json:"metadata"`
	OrderID          string    `json:"orderId"`
	SettlementID     string    `json:"settlementId"`
}

type Refund struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
	Amount           *Amount   `json:"amount"`
	SettlementAmount *Amount   `json:"settlementAmount"`
	Description      string    `json:"description"`
	Metadata         any       `json:"metadata"`
	PaymentID        string    `json:"paymentId"`
	OrderID          string    `json:"orderId"`
}

type Capture struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
	Amount           *Amount   `json:"amount"`
	SettlementAmount *Amount   `json:"settlementAmount"`
	Description      string    `json:"description"`
	Metadata         any       `json:"metadata"`
	PaymentID        string    `json:"paymentId"`
}

type Chargeback struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"createdAt"`
	Amount           *Amount   `json:"amount"`
	SettlementAmount *Amount   `json:"settlementAmount"`
	Reason           *struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"reason"`
	PaymentID string `json:"paymentId"`
}

// BalanceTransaction is a single movement on a processor-held balance.
type BalanceTransaction struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	CreatedAt     time.Time      `json:"createdAt"`
	ResultAmount  *Amount        `json:"resultAmount"`
	InitialAmount *Amount        `json:"initialAmount"`
	Deductions    *Amount        `json:"deductions"`
	Context       map[string]any `json:"context"`
}

func (p Payment) RecordID() string            { return p.ID }
func (r Refund) RecordID() string             { return r.ID }
func (c Capture) RecordID() string            { return c.ID }
func (c Chargeback) RecordID() string         { return c.ID }
func (b BalanceTransaction) RecordID() string { return b.ID }

func (Payment) record()            {}
func (Refund) record()             {}
func (Capture) record()            {}
func (Chargeback) record()         {}
func (BalanceTransaction) record() {}

// Order groups the payments of one checkout. It is looked up for its metadata
// and billing address only; it is not a Record.
type Order struct {
	ID             string    `json:"id"`
	OrderNumber    string    `json:"orderNumber"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	Amount         *Amount   `json:"amount"`
	Metadata       any       `json:"metadata"`
	BillingAddress *Address  `json:"billingAddress"`
}

type Address struct {
	OrganizationName string `json:"organizationName,omitempty"`
	Title            string `json:"title,omitempty"`
	GivenName        string `json:"givenName,omitempty"`
	FamilyName       string `json:"familyName,omitempty"`
	Email            string `json:"email,omitempty"`
	Phone            string `json:"phone,omitempty"`
	StreetAndNumber  string `json:"streetAndNumber,omitempty"`
	StreetAdditional string `json:"streetAdditional,omitempty"`
	PostalCode       string `json:"postalCode,omitempty"`
	City             string `json:"city,omitempty"`
	Region           string `json:"region,omitempty"`
	Country          string `json:"country,omitempty"`
}

type Settlement struct {
	ID        string    `json:"id"`
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"createdAt"`
	SettledAt time.Time `json:"settledAt"`
	Status    string    `json:"status"`
	Amount    Amount    `json:"amount"`
	// Periods is keyed by year, then by month.
	Periods map[string]map[string]Period `json:"periods"`
}

type Period struct {
	Costs []Cost `json:"costs"`
}

type Cost struct {
	Description string `json:"description"`
	Method      string `json:"method"`
	Count       int    `json:"count"`
	AmountGross Amount `json:"amountGross"`
}

type Balance struct {
	ID                  string    `json:"id"`
	Currency            string    `json:"currency"`
	Status              string    `json:"status"`
	CreatedAt           time.Time `json:"createdAt"`
	AvailableAmount     *Amount   `json:"availableAmount"`
	TransferDestination struct {
		Type            string `json:"type"`
		BeneficiaryName string `json:"beneficiaryName"`
		BankAccount     string `json:"bankAccount"`
		BankAccountID   string `json:"bankAccountId"`
	} `json:"transferDestination"`
}
