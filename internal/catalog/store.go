package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"labsales/internal/core"
)

// Store reads the catalog and partner directory through gorm. It satisfies
// core.Catalog and core.PartnerDirectory.
type Store struct {
	db *gorm.DB
}

var (
	_ core.Catalog          = (*Store)(nil)
	_ core.PartnerDirectory = (*Store)(nil)
)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL. The schema itself is owned by the SQL migrations.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	return New(db), nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func lookupErr(entity string, id int64, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %d: %w", entity, id, core.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %d: %w", entity, id, err)
}

// ── Prices ───────────────────────────────────────────────────────────────────

func (s *Store) ProductPrice(ctx context.Context, productID int64) (*core.ProductPrice, error) {
	var p Product
	err := s.db.WithContext(ctx).
		Preload("Fees").
		Preload("Parameters").
		Where("is_active = ?", true).
		First(&p, productID).Error
	if err != nil {
		return nil, lookupErr("product", productID, err)
	}

	price := &core.ProductPrice{
		ProductID:       p.ID,
		Name:            p.Name,
		Category:        p.Category,
		BasePrice:       p.BasePrice,
		ExtraFeesTotal:  decimal.Zero,
		ParametersTotal: decimal.Zero,
	}
	for _, f := range p.Fees {
		price.ExtraFeesTotal = price.ExtraFeesTotal.Add(f.Amount)
	}
	for _, param := range p.Parameters {
		price.ParametersTotal = price.ParametersTotal.Add(param.Price)
		price.DefaultParameterIDs = append(price.DefaultParameterIDs, param.ID)
	}
	return price, nil
}

func (s *Store) FeePrice(ctx context.Context, feeID int64) (*core.FeePrice, error) {
	var f Fee
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).First(&f, feeID).Error; err != nil {
		return nil, lookupErr("fee", feeID, err)
	}
	return &core.FeePrice{FeeID: f.ID, Name: f.Name, Amount: f.Amount}, nil
}

func (s *Store) ParameterPrice(ctx context.Context, parameterID int64) (*core.ParameterPrice, error) {
	var p Parameter
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).First(&p, parameterID).Error; err != nil {
		return nil, lookupErr("parameter", parameterID, err)
	}
	return &core.ParameterPrice{ParameterID: p.ID, Name: p.Name, Price: p.Price}, nil
}

func (s *Store) GetPartner(ctx context.Context, partnerID int64) (*core.Partner, error) {
	var p Partner
	if err := s.db.WithContext(ctx).First(&p, partnerID).Error; err != nil {
		return nil, lookupErr("partner", partnerID, err)
	}
	return &core.Partner{ID: p.ID, Name: p.Name, IsCustomer: p.IsCustomer}, nil
}

// ── Maintenance ──────────────────────────────────────────────────────────────

func (s *Store) CreatePartner(ctx context.Context, p *Partner) error {
	if p.Name == "" {
		return fmt.Errorf("partner name is required")
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create partner: %w", err)
	}
	return nil
}

// CreateProduct stores the product with its fees and links its default parameters,
// which must already exist.
func (s *Store) CreateProduct(ctx context.Context, p *Product) error {
	if p.Code == "" || p.Name == "" {
		return fmt.Errorf("product code and name are required")
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		params := p.Parameters
		p.Parameters = nil
		if err := tx.Create(p).Error; err != nil {
			return err
		}
		if len(params) > 0 {
			if err := tx.Model(p).Association("Parameters").Append(params); err != nil {
				return err
			}
		}
		p.Parameters = params
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to create product %s: %w", p.Code, err)
	}
	return nil
}

func (s *Store) CreateParameter(ctx context.Context, p *Parameter) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create parameter %s: %w", p.Code, err)
	}
	return nil
}

func (s *Store) CreateFee(ctx context.Context, f *Fee) error {
	if err := s.db.WithContext(ctx).Create(f).Error; err != nil {
		return fmt.Errorf("failed to create fee %s: %w", f.Code, err)
	}
	return nil
}

// SetProductActive hides a product from new lines without touching existing ones.
func (s *Store) SetProductActive(ctx context.Context, productID int64, active bool) error {
	res := s.db.WithContext(ctx).Model(&Product{}).Where("id = ?", productID).Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("failed to update product %d: %w", productID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("product %d: %w", productID, core.ErrNotFound)
	}
	return nil
}

// UpdateProductPrice changes the base price. Lines already on orders keep their snapshot.
func (s *Store) UpdateProductPrice(ctx context.Context, productID int64, basePrice decimal.Decimal) error {
	res := s.db.WithContext(ctx).Model(&Product{}).Where("id = ?", productID).Update("base_price", basePrice)
	if res.Error != nil {
		return fmt.Errorf("failed to update product %d: %w", productID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("product %d: %w", productID, core.ErrNotFound)
	}
	return nil
}

func (s *Store) ListProducts(ctx context.Context, category string) ([]Product, error) {
	q := s.db.WithContext(ctx).Preload("Fees").Preload("Parameters").Where("is_active = ?", true)
	if category != "" {
		q = q.Where("category = ?", category)
	}
	var products []Product
	if err := q.Order("code").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

func (s *Store) ListFees(ctx context.Context) ([]Fee, error) {
	var fees []Fee
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("code").Find(&fees).Error; err != nil {
		return nil, fmt.Errorf("failed to list fees: %w", err)
	}
	return fees, nil
}

func (s *Store) ListPartners(ctx context.Context, customersOnly bool) ([]Partner, error) {
	q := s.db.WithContext(ctx)
	if customersOnly {
		q = q.Where("is_customer = ?", true)
	}
	var partners []Partner
	if err := q.Order("name").Find(&partners).Error; err != nil {
		return nil, fmt.Errorf("failed to list partners: %w", err)
	}
	return partners, nil
}
