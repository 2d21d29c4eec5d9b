package classifier

import (
	"github.com/sheikh-saqib/settlement-ledger-sync/internal/feed"
)

// OrderInfo flattens an order's metadata and billing address into one map.
// Address fields win over metadata keys of the same name.
func OrderInfo(o *feed.Order) map[string]any {
	if o == nil {
		return nil
	}
	info := make(map[string]any)
	for k, v := range MetadataMap(o.Metadata) {
		info[k] = v
	}
	if a := o.BillingAddress; a != nil {
		for _, f := range []struct{ key, value string }{
			{"organizationName", a.OrganizationName},
			{"title", a.Title},
			{"givenName", a.GivenName},
			{"familyName", a.FamilyName},
			{"email", a.Email},
			{"phone", a.Phone},
			{"streetAndNumber", a.StreetAndNumber},
			{"streetAdditional", a.StreetAdditional},
			{"postalCode", a.PostalCode},
			{"city", a.City},
			{"region", a.Region},
			{"country", a.Country},
		} {
			if f.value != "" {
				info[f.key] = f.value
			}
		}
	}
	if o.OrderNumber != "" {
		info["orderNumber"] = o.OrderNumber
	}
	if len(info) == 0 {
		return nil
	}
	return info
}

// WithOrder layers payment metadata over order info. Without a customer in
// either, the billing name stands in so the memo still names the buyer.
func WithOrder(payment, order map[string]any) map[string]any {
	if len(order) == 0 {
		return payment
	}
	merged := make(map[string]any, len(order)+len(payment)+1)
	for k, v := range order {
		merged[k] = v
	}
	for k, v := range payment {
		merged[k] = v
	}
	if _, ok := merged["customer"]; !ok {
		first, last := str(order["givenName"]), str(order["familyName"])
		if first != "" || last != "" {
			merged["customer"] = map[string]any{"firstName": first, "lastName": last}
		}
	}
	return merged
}
