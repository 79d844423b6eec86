package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Food           Category = "Food"
	Transportation Category = "Transportation"
	Shopping       Category = "Shopping"
	Entertainment  Category = "Entertainment"
	Bills          Category = "Bills"
	Healthcare     Category = "Healthcare"
	Education      Category = "Education"
	Travel         Category = "Travel"
	OtherCategory  Category = "Other"
)

const (
	Cash       PaymentMethod = "Cash"
	CreditCard PaymentMethod = "Credit Card"
	DebitCard  PaymentMethod = "Debit Card"
	UPI        PaymentMethod = "UPI"
	NetBanking PaymentMethod = "Net Banking"
	OtherWay   PaymentMethod = "Other"
)

// TempIDPrefix marks a locally generated identifier for an expense created
// while the backend was unreachable. The backend never issues such IDs.
const TempIDPrefix = "temp_"

type (
	Category      string
	PaymentMethod string

	// Expense is the unit record of the tracker. Identity is either
	// server-assigned (Synced true) or a temp_ placeholder (Synced false);
	// the two states never mix.
	Expense struct {
		ID            string        `json:"_id,omitempty"`
		ClientID      string        `json:"clientId,omitempty"`
		Amount        float64       `json:"amount"`
		Category      Category      `json:"category"`
		PaymentMethod PaymentMethod `json:"paymentMethod"`
		Description   string        `json:"description,omitempty"`
		Date          time.Time     `json:"date"`
		Synced        bool          `json:"synced"`
		CreatedAt     time.Time     `json:"createdAt,omitempty"`
		UpdatedAt     time.Time     `json:"updatedAt,omitempty"`
	}

	// ExpensePatch carries the mutable fields of an update. Nil means
	// "leave unchanged".
	ExpensePatch struct {
		Amount        *float64       `json:"amount,omitempty"`
		Category      *Category      `json:"category,omitempty"`
		PaymentMethod *PaymentMethod `json:"paymentMethod,omitempty"`
		Description   *string        `json:"description,omitempty"`
		Date          *time.Time     `json:"date,omitempty"`
	}
)

var (
	ErrNegativeAmount       = errors.New("amount cannot be negative")
	ErrInvalidCategory      = errors.New("invalid category")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrDescriptionTooLong   = errors.New("description cannot exceed 200 characters")
	ErrZeroDate             = errors.New("date cannot be zero")
)

// Categories returns the fixed category set in display order.
func Categories() []Category {
	return []Category{
		Food, Transportation, Shopping, Entertainment, Bills,
		Healthcare, Education, Travel, OtherCategory,
	}
}

// PaymentMethods returns the fixed payment method set in display order.
func PaymentMethods() []PaymentMethod {
	return []PaymentMethod{Cash, CreditCard, DebitCard, UPI, NetBanking, OtherWay}
}

func (c Category) IsValid() bool {
	switch c {
	case Food, Transportation, Shopping, Entertainment, Bills,
		Healthcare, Education, Travel, OtherCategory:
		return true
	default:
		return false
	}
}

func (p PaymentMethod) IsValid() bool {
	switch p {
	case Cash, CreditCard, DebitCard, UPI, NetBanking, OtherWay:
		return true
	default:
		return false
	}
}

// IsTemporaryID reports whether id is a locally generated placeholder.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// IsLocal reports whether the expense only exists on this device.
func (e Expense) IsLocal() bool {
	return IsTemporaryID(e.ID)
}

func (e Expense) Validate() error {
	if e.Amount < 0 {
		return ErrNegativeAmount
	}
	if !e.Category.IsValid() {
		return ErrInvalidCategory
	}
	if !e.PaymentMethod.IsValid() {
		return ErrInvalidPaymentMethod
	}
	if len(e.Description) > 200 {
		return ErrDescriptionTooLong
	}
	if e.Date.IsZero() {
		return ErrZeroDate
	}
	return nil
}

// Apply returns a copy of e with the patch fields applied and Synced cleared,
// since a patched record no longer matches the server's copy until replayed.
func (e Expense) Apply(p ExpensePatch) Expense {
	out := e
	if p.Amount != nil {
		out.Amount = *p.Amount
	}
	if p.Category != nil {
		out.Category = *p.Category
	}
	if p.PaymentMethod != nil {
		out.PaymentMethod = *p.PaymentMethod
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Date != nil {
		out.Date = *p.Date
	}
	out.Synced = false
	return out
}

func (p ExpensePatch) Validate() error {
	if p.Amount != nil && *p.Amount < 0 {
		return ErrNegativeAmount
	}
	if p.Category != nil && !p.Category.IsValid() {
		return ErrInvalidCategory
	}
	if p.PaymentMethod != nil && !p.PaymentMethod.IsValid() {
		return ErrInvalidPaymentMethod
	}
	if p.Description != nil && len(*p.Description) > 200 {
		return ErrDescriptionTooLong
	}
	if p.Date != nil && p.Date.IsZero() {
		return ErrZeroDate
	}
	return nil
}
