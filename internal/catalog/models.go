package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// Partner is a customer or supplier. Balance is written only by the balance ledger.
type Partner struct {
	ID         int64           `gorm:"primaryKey" json:"id"`
	Name       string          `gorm:"not null" json:"name"`
	Email      string          `gorm:"not null;default:''" json:"email"`
	IsCustomer bool            `gorm:"not null" json:"is_customer"`
	IsSupplier bool            `gorm:"not null" json:"is_supplier"`
	Balance    decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0;->" json:"balance"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Product is a sellable service. Its unit price bundles its fees and default parameters.
type Product struct {
	ID         int64           `gorm:"primaryKey" json:"id"`
	Code       string          `gorm:"uniqueIndex;not null" json:"code"`
	Name       string          `gorm:"not null" json:"name"`
	Category   string          `gorm:"not null;default:''" json:"category"`
	BasePrice  decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"base_price"`
	IsActive   bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
	Fees       []ProductFee    `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" json:"fees,omitempty"`
	Parameters []Parameter     `gorm:"many2many:product_parameters" json:"parameters,omitempty"`
}

// ProductFee is a sub-fee included in a product's price.
type ProductFee struct {
	ID        int64           `gorm:"primaryKey" json:"id"`
	ProductID int64           `gorm:"not null;index" json:"product_id"`
	Name      string          `gorm:"not null" json:"name"`
	Amount    decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"amount"`
}

// Parameter is a test parameter, either a product default or an extra on a line.
type Parameter struct {
	ID        int64           `gorm:"primaryKey" json:"id"`
	Code      string          `gorm:"uniqueIndex;not null" json:"code"`
	Name      string          `gorm:"not null" json:"name"`
	Price     decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"price"`
	IsActive  bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
}

// Fee is a standalone charge that can be put on an order.
type Fee struct {
	ID        int64           `gorm:"primaryKey" json:"id"`
	Code      string          `gorm:"uniqueIndex;not null" json:"code"`
	Name      string          `gorm:"not null" json:"name"`
	Amount    decimal.Decimal `gorm:"type:numeric(15,2);not null;default:0" json:"amount"`
	IsActive  bool            `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
}

// Models lists every catalog model, for AutoMigrate in tests.
func Models() []any {
	return []any{&Partner{}, &Product{}, &ProductFee{}, &Parameter{}, &Fee{}}
}
