package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Keys of the metadata attached to a checkout session
const (
	MetadataDesignID         = "design_id"
	MetadataDesignerID       = "designer_id"
	MetadataBuyerID          = "buyer_id"
	MetadataPlatformFee      = "platform_fee"
	MetadataDesignerEarnings = "designer_earnings"
)

// PurchaseMetadata is the fee split snapshotted when the checkout session is opened.
// It travels through the payment provider and is trusted only after signature verification.
type PurchaseMetadata struct {
	DesignID         string
	DesignerID       string
	BuyerID          string
	PlatformFee      decimal.Decimal
	DesignerEarnings decimal.Decimal
}

// Total is the sale amount implied by the split
func (m PurchaseMetadata) Total() decimal.Decimal {
	return m.PlatformFee.Add(m.DesignerEarnings)
}

// ToMap encodes the metadata for the provider
func (m PurchaseMetadata) ToMap() map[string]string {
	return map[string]string{
		MetadataDesignID:         m.DesignID,
		MetadataDesignerID:       m.DesignerID,
		MetadataBuyerID:          m.BuyerID,
		MetadataPlatformFee:      m.PlatformFee.StringFixed(2),
		MetadataDesignerEarnings: m.DesignerEarnings.StringFixed(2),
	}
}

// ParsePurchaseMetadata validates the provider's metadata bag
func ParsePurchaseMetadata(raw map[string]string) (PurchaseMetadata, error) {
	var missing []string
	get := func(key string) string {
		v := strings.TrimSpace(raw[key])
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	m := PurchaseMetadata{
		DesignID:   get(MetadataDesignID),
		DesignerID: get(MetadataDesignerID),
		BuyerID:    get(MetadataBuyerID),
	}
	fee := get(MetadataPlatformFee)
	earnings := get(MetadataDesignerEarnings)

	if len(missing) > 0 {
		return PurchaseMetadata{}, fmt.Errorf("missing metadata: %s", strings.Join(missing, ", "))
	}

	var err error
	if m.PlatformFee, err = parseAmount(MetadataPlatformFee, fee); err != nil {
		return PurchaseMetadata{}, err
	}
	if m.DesignerEarnings, err = parseAmount(MetadataDesignerEarnings, earnings); err != nil {
		return PurchaseMetadata{}, err
	}
	if m.BuyerID == m.DesignerID {
		return PurchaseMetadata{}, fmt.Errorf("buyer and designer are the same user: %s", m.BuyerID)
	}

	return m, nil
}

func parseAmount(key, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("invalid %s %q: negative", key, v)
	}
	if !d.Equal(d.Round(2)) {
		return decimal.Decimal{}, fmt.Errorf("invalid %s %q: more than two decimal places", key, v)
	}
	return d, nil
}
