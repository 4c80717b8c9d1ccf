package domain

import (
	"errors"
	"fmt"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CART DOMAIN ERRORS
// =============================================================================

var (
	ErrCartItemNotFound = &Error{Code: ENOTFOUND, Message: "Cart item not found"}
	ErrInvalidQuantity  = &Error{Code: EINVALID, Message: "Quantity must be at least 1"}
	ErrInvalidProduct   = &Error{Code: EINVALID, Message: "Product ID must be greater than 0"}
	ErrCouponRequired   = &Error{Code: EINVALID, Message: "Coupon code is required"}
	ErrLoginRequired    = &Error{Code: EUNAUTHORIZED, Message: "Please log in to apply a coupon"}
)

// CartLineItem is a single product line in a cart.
// A line item with a quantity below 1 must never exist; removal is the only way
// to reach zero.
type CartLineItem struct {
	ProductID   int64           `json:"productId" validate:"gt=0"`
	DisplayName string          `json:"displayName"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Quantity    int             `json:"quantity" validate:"gte=1"`
	ImageURL    string          `json:"imageUrl,omitempty"`
}

// LineTotal returns UnitPrice * Quantity. Display only; totals shown to the
// user always come from the server when authenticated.
func (i CartLineItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartAggregate is the full cart state: ordered items unique by product ID
// plus the money fields reported by the server.
type CartAggregate struct {
	Items    []CartLineItem  `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
	Coupon   *string         `json:"coupon"`
}

// Clone returns a deep copy, safe to mutate without touching the receiver.
func (c CartAggregate) Clone() CartAggregate {
	out := c
	out.Items = slices.Clone(c.Items)
	if out.Items == nil {
		out.Items = []CartLineItem{}
	}
	if c.Coupon != nil {
		code := *c.Coupon
		out.Coupon = &code
	}
	return out
}

// Equal reports whether two carts hold the same items in the same order and
// the same money fields.
func (c CartAggregate) Equal(other CartAggregate) bool {
	if len(c.Items) != len(other.Items) {
		return false
	}
	for i := range c.Items {
		a, b := c.Items[i], other.Items[i]
		if a.ProductID != b.ProductID || a.DisplayName != b.DisplayName ||
			a.Quantity != b.Quantity || a.ImageURL != b.ImageURL ||
			!a.UnitPrice.Equal(b.UnitPrice) {
			return false
		}
	}
	if (c.Coupon == nil) != (other.Coupon == nil) {
		return false
	}
	if c.Coupon != nil && *c.Coupon != *other.Coupon {
		return false
	}
	return c.Subtotal.Equal(other.Subtotal) &&
		c.Discount.Equal(other.Discount) &&
		c.Total.Equal(other.Total)
}

// Find returns the index of the line for productID, or -1.
func (c CartAggregate) Find(productID int64) int {
	return slices.IndexFunc(c.Items, func(i CartLineItem) bool {
		return i.ProductID == productID
	})
}

// ItemCount returns the sum of all line quantities.
func (c CartAggregate) ItemCount() int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}

// NewGuestCart wraps locally held items. Guest carts carry no money semantics.
func NewGuestCart(items []CartLineItem) CartAggregate {
	return CartAggregate{Items: slices.Clone(items)}.Clone()
}

// =============================================================================
// SERVER WIRE FORMAT
// =============================================================================

// ServerCartItem is one line of the cart shape returned by every cart endpoint.
type ServerCartItem struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
	ImageURL  *string         `json:"image_url,omitempty"`
}

// ServerCart is the response body of every cart endpoint.
type ServerCart struct {
	Items    []ServerCartItem `json:"items"`
	Subtotal decimal.Decimal  `json:"subtotal"`
	Discount decimal.Decimal  `json:"discount"`
	Total    decimal.Decimal  `json:"total"`
	Coupon   *string          `json:"coupon"`
}

// FromServer maps a server cart onto the in-memory aggregate. It never fails:
// lines with a non-positive product ID or quantity are dropped and duplicate
// product IDs are collapsed into the first occurrence.
func FromServer(sc ServerCart) CartAggregate {
	out := CartAggregate{
		Items:    make([]CartLineItem, 0, len(sc.Items)),
		Subtotal: sc.Subtotal,
		Discount: sc.Discount,
		Total:    sc.Total,
	}
	if sc.Coupon != nil && *sc.Coupon != "" {
		code := *sc.Coupon
		out.Coupon = &code
	}

	for _, it := range sc.Items {
		if it.ProductID <= 0 || it.Quantity < 1 {
			continue
		}
		if idx := out.Find(it.ProductID); idx >= 0 {
			out.Items[idx].Quantity += it.Quantity
			continue
		}
		line := CartLineItem{
			ProductID:   it.ProductID,
			DisplayName: it.Name,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
		}
		if it.ImageURL != nil {
			line.ImageURL = *it.ImageURL
		}
		out.Items = append(out.Items, line)
	}

	return out
}

// =============================================================================
// VALIDATION
// =============================================================================

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateLineItem checks the structural invariants of a line item.
func ValidateLineItem(item CartLineItem) error {
	const op = "cart.validate"

	if err := validate.Struct(item); err != nil {
		var verr error
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				verr = AddFieldError(verr, fe.Field(), fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param()))
			}
			if ve, ok := verr.(*ValidationError); ok {
				ve.Op = op
			}
			return verr
		}
		return Internal(err, op, "failed to validate cart item")
	}
	if item.UnitPrice.IsNegative() {
		return NewValidationError(op, "UnitPrice", "must not be negative")
	}
	return nil
}
