package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// ProductPrice is a catalog product priced at lookup time. Order lines copy it once.
type ProductPrice struct {
	ProductID       int64
	Name            string
	Category        string
	BasePrice       decimal.Decimal
	ExtraFeesTotal  decimal.Decimal
	ParametersTotal decimal.Decimal
	// DefaultParameterIDs are already included in ParametersTotal.
	DefaultParameterIDs []int64
}

// UnitPrice is the fully-loaded price: base price plus the product's own fees and
// default parameters.
func (p ProductPrice) UnitPrice() decimal.Decimal {
	return p.BasePrice.Add(p.ExtraFeesTotal).Add(p.ParametersTotal)
}

// FeePrice is a standalone fee that can be charged on an order.
type FeePrice struct {
	FeeID  int64
	Name   string
	Amount decimal.Decimal
}

// ParameterPrice is a test parameter that can be added to a line as a surcharge.
type ParameterPrice struct {
	ParameterID int64
	Name        string
	Price       decimal.Decimal
}

// Partner is the subset of the partner directory the order flow needs.
type Partner struct {
	ID         int64
	Name       string
	IsCustomer bool
}

// Catalog resolves current prices. Implementations return ErrNotFound for unknown ids.
type Catalog interface {
	ProductPrice(ctx context.Context, productID int64) (*ProductPrice, error)
	FeePrice(ctx context.Context, feeID int64) (*FeePrice, error)
	ParameterPrice(ctx context.Context, parameterID int64) (*ParameterPrice, error)
}

// PartnerDirectory resolves partners. Implementations return ErrNotFound for unknown ids.
type PartnerDirectory interface {
	GetPartner(ctx context.Context, partnerID int64) (*Partner, error)
}
