package ticketing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"guestlist/entity"

	"github.com/shopspring/decimal"
)

type PromoDiscount struct {
	Code       string          `json:"code"`
	PromoterID string          `json:"promoter_id"`
	Discount   decimal.Decimal `json:"discount"`
}

func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// PromoValidator resolves promo codes for both the live price preview and the
// purchase itself, so both see the same discount.
type PromoValidator struct {
	events EventRepo
	codes  PromoCodeRepo
}

func NewPromoValidator(events EventRepo, codes PromoCodeRepo) *PromoValidator {
	return &PromoValidator{
		events: events,
		codes:  codes,
	}
}

func (v *PromoValidator) Validate(ctx context.Context, eventID, code string) (PromoDiscount, error) {
	if NormalizePromoCode(code) == "" {
		return PromoDiscount{}, &ValidationError{Field: "promo_code", Reason: "must not be empty"}
	}

	event, err := v.events.Get(ctx, eventID)
	if err != nil {
		return PromoDiscount{}, fmt.Errorf("getting event: %w", err)
	}

	return v.validateForEvent(ctx, event, code)
}

func (v *PromoValidator) validateForEvent(ctx context.Context, event entity.Event, code string) (PromoDiscount, error) {
	normalized := NormalizePromoCode(code)

	promo, err := v.codes.GetByCode(ctx, event.OrganizationID, normalized)
	if errors.Is(err, ErrNotFound) {
		return PromoDiscount{}, fmt.Errorf("%q: %w", normalized, ErrPromoCodeNotFound)
	}
	if err != nil {
		return PromoDiscount{}, fmt.Errorf("getting promo code: %w", err)
	}

	if promo.Disabled || promo.OrganizationID != event.OrganizationID {
		return PromoDiscount{}, fmt.Errorf("%q: %w", normalized, ErrPromoCodeNotFound)
	}

	return PromoDiscount{
		Code:       normalized,
		PromoterID: promo.PromoterID,
		Discount:   promo.Discount,
	}, nil
}
