package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tabshare/tabshare_backend/config"
	"github.com/tabshare/tabshare_backend/utils"
)

// Receipt is the source document an expected split derives from. This core
// never mutates a receipt's amounts; it only reads them to compute each
// participant's expected sum.
type Receipt struct {
	ID           int                  `gorm:"primary_key" json:"id"`
	AccountId    int                  `gorm:"index;not null" json:"account_id"`
	CurrencyCode string               `gorm:"size:3;not null" json:"currency_code" binding:"required"`
	IssuedAt     time.Time            `gorm:"index;not null" json:"issued_at" binding:"required"`
	Note         string               `gorm:"type:text" json:"note"`
	Items        []ReceiptItem        `json:"items"`
	Participants []ReceiptParticipant `json:"participants"`
	Payers       []ReceiptPayer       `json:"payers"`
	CreatedAt    time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

type ReceiptItem struct {
	ID        int             `gorm:"primary_key" json:"id"`
	ReceiptId int             `gorm:"index;not null" json:"receipt_id"`
	Name      string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Price     decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"price" binding:"required"`
	Quantity  decimal.Decimal `gorm:"type:decimal(20,6);not null;default:1" json:"quantity"`
}

// ReceiptParticipant holds one user's share of the receipt as a fraction.
type ReceiptParticipant struct {
	ID              int `gorm:"primary_key" json:"id"`
	ReceiptId       int `gorm:"index;not null" json:"receipt_id"`
	UserId          int `gorm:"index;not null" json:"user_id" binding:"required"`
	PartNumerator   int `gorm:"not null;default:1" json:"part_numerator"`
	PartDenominator int `gorm:"not null;default:1" json:"part_denominator"`
}

// ReceiptPayer records what a user actually put in when the bill was paid.
type ReceiptPayer struct {
	ID        int             `gorm:"primary_key" json:"id"`
	ReceiptId int             `gorm:"index;not null" json:"receipt_id"`
	UserId    int             `gorm:"index;not null" json:"user_id" binding:"required"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"amount" binding:"required"`
}

type NewReceipt struct {
	CurrencyCode string                  `json:"currency_code" binding:"required"`
	IssuedAt     time.Time               `json:"issued_at" binding:"required"`
	Note         string                  `json:"note"`
	Items        []NewReceiptItem        `json:"items" binding:"required"`
	Participants []NewReceiptParticipant `json:"participants" binding:"required"`
	Payers       []NewReceiptPayer       `json:"payers"`
}

type NewReceiptItem struct {
	Name     string          `json:"name" binding:"required"`
	Price    decimal.Decimal `json:"price" binding:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

type NewReceiptParticipant struct {
	UserId          int `json:"user_id" binding:"required"`
	PartNumerator   int `json:"part_numerator"`
	PartDenominator int `json:"part_denominator"`
}

type NewReceiptPayer struct {
	UserId int             `json:"user_id" binding:"required"`
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

func (input *NewReceipt) validate(ctx context.Context, accountId int) error {
	if len(input.CurrencyCode) != 3 {
		return errors.New("currency code must be 3 letters")
	}
	if len(input.Items) == 0 {
		return errors.New("at least one item is required")
	}
	if len(input.Participants) == 0 {
		return errors.New("at least one participant is required")
	}
	for _, item := range input.Items {
		if item.Price.IsNegative() {
			return errors.New("item price cannot be negative")
		}
	}
	for _, p := range input.Participants {
		if p.PartNumerator < 0 || p.PartDenominator <= 0 {
			return errors.New("invalid participant part fraction")
		}
		if err := utils.ValidateResourceId[User](ctx, accountId, p.UserId); err != nil {
			return errors.New("participant user not found")
		}
	}
	for _, p := range input.Payers {
		if err := utils.ValidateResourceId[User](ctx, accountId, p.UserId); err != nil {
			return errors.New("payer user not found")
		}
	}
	return nil
}

func CreateReceipt(ctx context.Context, input *NewReceipt) (*Receipt, error) {

	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId <= 0 {
		return nil, errors.New("account id is required")
	}

	if err := input.validate(ctx, accountId); err != nil {
		return nil, err
	}

	receipt := Receipt{
		AccountId:    accountId,
		CurrencyCode: input.CurrencyCode,
		IssuedAt:     input.IssuedAt,
		Note:         input.Note,
	}
	for _, item := range input.Items {
		qty := item.Quantity
		if qty.IsZero() {
			qty = decimal.NewFromInt(1)
		}
		receipt.Items = append(receipt.Items, ReceiptItem{
			Name:     item.Name,
			Price:    item.Price,
			Quantity: qty,
		})
	}
	for _, p := range input.Participants {
		num, den := p.PartNumerator, p.PartDenominator
		if den == 0 {
			num, den = 1, 1
		}
		receipt.Participants = append(receipt.Participants, ReceiptParticipant{
			UserId:          p.UserId,
			PartNumerator:   num,
			PartDenominator: den,
		})
	}
	for _, p := range input.Payers {
		receipt.Payers = append(receipt.Payers, ReceiptPayer{
			UserId: p.UserId,
			Amount: p.Amount,
		})
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&receipt).Error; err != nil {
		return nil, err
	}
	return &receipt, nil
}

func GetReceipt(ctx context.Context, id int) (*Receipt, error) {

	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId <= 0 {
		return nil, errors.New("account id is required")
	}

	var receipt Receipt
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Preload("Items").
		Preload("Participants").
		Preload("Payers").
		Where("account_id = ?", accountId).
		Take(&receipt, id).Error; err != nil {
		return nil, err
	}
	return &receipt, nil
}

func GetReceipts(ctx context.Context, limit int) ([]*Receipt, error) {

	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId <= 0 {
		return nil, errors.New("account id is required")
	}
	if limit <= 0 || limit > config.SearchLimit {
		limit = config.SearchLimit
	}

	var receipts []*Receipt
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Preload("Items").
		Preload("Participants").
		Preload("Payers").
		Where("account_id = ?", accountId).
		Order("issued_at DESC").
		Limit(limit).
		Find(&receipts).Error; err != nil {
		return nil, err
	}
	return receipts, nil
}

// ReceiptTotal is the sum of item price x quantity.
func (r *Receipt) ReceiptTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range r.Items {
		total = total.Add(item.Price.Mul(item.Quantity))
	}
	return total
}
