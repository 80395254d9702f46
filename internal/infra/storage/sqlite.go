package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"offramp_go/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// orderRecord is the row layout of an order. Fees and bank details are flattened.
type orderRecord struct {
	ID            string    `gorm:"primaryKey"`
	CreatedAt     time.Time `gorm:"autoCreateTime:false;index"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
	LockExpiresAt time.Time

	AssetID string
	Asset   string
	Chain   string
	Amount  decimal.Decimal `gorm:"type:text"`

	FiatCurrency string
	Rate         decimal.Decimal `gorm:"type:text"`
	FiatAmount   decimal.Decimal `gorm:"type:text"`

	OfframpFee    decimal.Decimal `gorm:"type:text"`
	NetworkFee    decimal.Decimal `gorm:"type:text"`
	BankFee       decimal.Decimal `gorm:"type:text"`
	TotalFee      decimal.Decimal `gorm:"type:text"`
	ReceiveAmount decimal.Decimal `gorm:"type:text"`

	HasBankDetails    bool
	BankName          string
	BankCode          string
	AccountNumber     string
	AccountName       string
	SettlementAddress string
	Memo              string
	Signature         string
	SourceAddress     string
	TxRef             string
	FailureReason     string

	Status string `gorm:"index"`
}

func (orderRecord) TableName() string { return "offramp_orders" }

// appConfig is a key/value row for singletons: the latest pointer, the lock and saved accounts.
type appConfig struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

func (appConfig) TableName() string { return "app_configs" }

// SQLite is the embedded gorm-backed store.
type SQLite struct {
	db *gorm.DB
}

// NewSQLite opens (and migrates) the database at path.
func NewSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&orderRecord{}, &appConfig{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLite{db: db}, nil
}

// CreateOrder inserts the order and moves the latest pointer in one transaction.
func (s *SQLite) CreateOrder(ctx context.Context, order *domain.OfframpOrder) error {
	rec := toRecord(order)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&orderRecord{}).Where("id = ?", rec.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrDuplicateOrder
		}
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		return tx.Save(&appConfig{Key: KeyLatestOrder, Value: rec.ID}).Error
	})
}

// GetOrder returns nil, nil when the id is unknown.
func (s *SQLite) GetOrder(ctx context.Context, id string) (*domain.OfframpOrder, error) {
	var rec orderRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec.toDomain(), nil
}

func (s *SQLite) SaveOrder(ctx context.Context, order *domain.OfframpOrder) error {
	rec := toRecord(order)
	return s.db.WithContext(ctx).Save(&rec).Error
}

func (s *SQLite) LatestOrder(ctx context.Context) (*domain.OfframpOrder, error) {
	id, err := s.loadValue(ctx, KeyLatestOrder)
	if err != nil || id == "" {
		return nil, err
	}
	return s.GetOrder(ctx, id)
}

func (s *SQLite) ListOrdersByStatus(ctx context.Context, statuses ...domain.OrderStatus) ([]*domain.OfframpOrder, error) {
	q := s.db.WithContext(ctx).Order("created_at")
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, st := range statuses {
			names[i] = string(st)
		}
		q = q.Where("status IN ?", names)
	}

	var recs []orderRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.OfframpOrder, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toDomain())
	}
	return out, nil
}

func (s *SQLite) SaveLock(ctx context.Context, lock domain.RateLock) error {
	return s.saveJSON(ctx, KeyRateLock, lock)
}

func (s *SQLite) LoadLock(ctx context.Context) (*domain.RateLock, error) {
	var lock domain.RateLock
	ok, err := s.loadJSON(ctx, KeyRateLock, &lock)
	if err != nil || !ok {
		return nil, err
	}
	return &lock, nil
}

func (s *SQLite) SaveAccounts(ctx context.Context, accounts []domain.SavedAccount) error {
	if accounts == nil {
		accounts = []domain.SavedAccount{}
	}
	return s.saveJSON(ctx, KeySavedAccounts, accounts)
}

func (s *SQLite) LoadAccounts(ctx context.Context) ([]domain.SavedAccount, error) {
	var accounts []domain.SavedAccount
	if _, err := s.loadJSON(ctx, KeySavedAccounts, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Close releases the underlying connection pool.
func (s *SQLite) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *SQLite) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Save(&appConfig{Key: key, Value: string(data)}).Error
}

func (s *SQLite) loadJSON(ctx context.Context, key string, v any) (bool, error) {
	raw, err := s.loadValue(ctx, key)
	if err != nil || raw == "" {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *SQLite) loadValue(ctx context.Context, key string) (string, error) {
	var cfg appConfig
	err := s.db.WithContext(ctx).Where(&appConfig{Key: key}).First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return cfg.Value, err
}

func toRecord(o *domain.OfframpOrder) orderRecord {
	rec := orderRecord{
		ID:                o.ID,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
		LockExpiresAt:     o.LockExpiresAt,
		AssetID:           o.AssetID,
		Asset:             o.Asset,
		Chain:             o.Chain,
		Amount:            o.Amount,
		FiatCurrency:      o.FiatCurrency,
		Rate:              o.Rate,
		FiatAmount:        o.FiatAmount,
		OfframpFee:        o.Fees.OfframpFee,
		NetworkFee:        o.Fees.NetworkFee,
		BankFee:           o.Fees.BankFee,
		TotalFee:          o.Fees.Total,
		ReceiveAmount:     o.Fees.ReceiveAmount,
		SettlementAddress: o.SettlementAddress,
		Memo:              o.Memo,
		Signature:         o.Signature,
		SourceAddress:     o.SourceAddress,
		TxRef:             o.TxRef,
		FailureReason:     o.FailureReason,
		Status:            string(o.Status),
	}
	if bd := o.BankDetails; bd != nil {
		rec.HasBankDetails = true
		rec.BankName = bd.BankName
		rec.BankCode = bd.BankCode
		rec.AccountNumber = bd.AccountNumber
		rec.AccountName = bd.AccountName
	}
	return rec
}

func (r *orderRecord) toDomain() *domain.OfframpOrder {
	o := &domain.OfframpOrder{
		ID:            r.ID,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
		LockExpiresAt: r.LockExpiresAt.UTC(),
		AssetID:       r.AssetID,
		Asset:         r.Asset,
		Chain:         r.Chain,
		Amount:        r.Amount,
		FiatCurrency:  r.FiatCurrency,
		Rate:          r.Rate,
		FiatAmount:    r.FiatAmount,
		Fees: domain.FeeBreakdown{
			OfframpFee:    r.OfframpFee,
			NetworkFee:    r.NetworkFee,
			BankFee:       r.BankFee,
			Total:         r.TotalFee,
			ReceiveAmount: r.ReceiveAmount,
		},
		SettlementAddress: r.SettlementAddress,
		Memo:              r.Memo,
		Signature:         r.Signature,
		SourceAddress:     r.SourceAddress,
		TxRef:             r.TxRef,
		FailureReason:     r.FailureReason,
		Status:            domain.OrderStatus(r.Status),
	}
	if r.HasBankDetails {
		o.BankDetails = &domain.BankDetails{
			BankName:      r.BankName,
			BankCode:      r.BankCode,
			AccountNumber: r.AccountNumber,
			AccountName:   r.AccountName,
		}
	}
	return o
}
