package classifier

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/sheikh-saqib/settlement-ledger-sync/internal/feed"
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/models"
)

// Settlement validates a raw settlement and flattens its fee periods into a
// schedule ordered by year, month and feed order.
func Settlement(raw feed.Settlement) (models.Settlement, error) {
	if raw.ID == "" {
		return models.Settlement{}, &models.ValidationError{Reason: "settlement without id"}
	}
	amount, err := ParseAmount(raw.ID, raw.Amount.Value)
	if err != nil {
		return models.Settlement{}, err
	}
	fees, err := feeSchedule(raw)
	if err != nil {
		return models.Settlement{}, err
	}
	return models.Settlement{
		ID:        raw.ID,
		Reference: raw.Reference,
		CreatedAt: raw.CreatedAt,
		Status:    raw.Status,
		Amount:    models.Money{Value: amount, Currency: raw.Amount.Currency},
		Fees:      fees,
	}, nil
}

func feeSchedule(raw feed.Settlement) (models.FeeSchedule, error) {
	type period struct {
		year, month int
		costs       []feed.Cost
	}
	var periods []period
	for y, months := range raw.Periods {
		year, err := strconv.Atoi(y)
		if err != nil {
			return nil, &models.ValidationError{Record: raw.ID, Reason: fmt.Sprintf("invalid period year %q", y)}
		}
		for m, p := range months {
			month, err := strconv.Atoi(m)
			if err != nil || month < 1 || month > 12 {
				return nil, &models.ValidationError{Record: raw.ID, Reason: fmt.Sprintf("invalid period month %q", m)}
			}
			periods = append(periods, period{year: year, month: month, costs: p.Costs})
		}
	}
	sort.Slice(periods, func(i, j int) bool {
		if periods[i].year != periods[j].year {
			return periods[i].year < periods[j].year
		}
		return periods[i].month < periods[j].month
	})

	var fees models.FeeSchedule
	for _, p := range periods {
		for _, cost := range p.costs {
			gross, err := ParseAmount(raw.ID, cost.AmountGross.Value)
			if err != nil {
				return nil, err
			}
			fees = append(fees, models.FeeEntry{
				Year:        p.year,
				Month:       p.month,
				Description: cost.Description,
				Count:       cost.Count,
				AmountGross: gross,
			})
		}
	}
	return fees, nil
}
