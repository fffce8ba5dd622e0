package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tabshare/tabshare_backend/config"
	"github.com/tabshare/tabshare_backend/utils"
	"gorm.io/gorm"
)

// Debt is one account's signed record of an amount owed between itself and a
// counterparty user. Two rows sharing the same ID under different owner
// accounts are mirror images of one transaction with negated amounts; the
// composite key (id, owner_account_id) lets the same id exist once per side.
//
// UpdatedAt is the row's mutation clock. The acceptance merge sets it
// explicitly (see mergeClockAfterAccept), so it carries no autoUpdateTime
// tag and every write path bumps it by hand.
type Debt struct {
	ID              int             `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerAccountId  int             `gorm:"primaryKey;autoIncrement:false" json:"owner_account_id"`
	UserId          int             `gorm:"index;not null" json:"user_id"`
	Amount          decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"amount"`
	CurrencyCode    string          `gorm:"size:3;not null" json:"currency_code"`
	TransactionDate time.Time       `gorm:"index;not null" json:"transaction_date"`
	Note            string          `gorm:"type:text" json:"note"`
	ReceiptId       *int            `gorm:"index" json:"receipt_id"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `gorm:"index" json:"updated_at"`
}

// LocalDebt is the caller-owned view of a ledger row: the fields an owner may
// read and mutate. ForeignDebt is the other side's row as visible to the
// caller; it never exposes the foreign owner's counterparty bookkeeping.
// Keeping the two sides as distinct types removes the "whose row is this"
// ambiguity from every consumer.
type LocalDebt struct {
	ID              int             `json:"id"`
	UserId          int             `json:"user_id"`
	Amount          decimal.Decimal `json:"amount"`
	CurrencyCode    string          `json:"currency_code"`
	TransactionDate time.Time       `json:"transaction_date"`
	Note            string          `json:"note"`
	ReceiptId       *int            `json:"receipt_id"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type ForeignDebt struct {
	ID              int             `json:"id"`
	OwnerAccountId  int             `json:"owner_account_id"`
	Amount          decimal.Decimal `json:"amount"`
	CurrencyCode    string          `json:"currency_code"`
	TransactionDate time.Time       `json:"transaction_date"`
	Note            string          `json:"note"`
	ReceiptId       *int            `json:"receipt_id"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (d Debt) LocalView() LocalDebt {
	return LocalDebt{
		ID:              d.ID,
		UserId:          d.UserId,
		Amount:          d.Amount,
		CurrencyCode:    d.CurrencyCode,
		TransactionDate: d.TransactionDate,
		Note:            d.Note,
		ReceiptId:       d.ReceiptId,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

func (d Debt) ForeignView() ForeignDebt {
	return ForeignDebt{
		ID:              d.ID,
		OwnerAccountId:  d.OwnerAccountId,
		Amount:          d.Amount,
		CurrencyCode:    d.CurrencyCode,
		TransactionDate: d.TransactionDate,
		Note:            d.Note,
		ReceiptId:       d.ReceiptId,
		UpdatedAt:       d.UpdatedAt,
	}
}

type NewDebt struct {
	UserId          int             `json:"user_id" binding:"required"`
	Amount          decimal.Decimal `json:"amount" binding:"required"`
	CurrencyCode    string          `json:"currency_code" binding:"required"`
	TransactionDate time.Time       `json:"transaction_date" binding:"required"`
	Note            string          `json:"note"`
	ReceiptId       *int            `json:"receipt_id"`
}

type UpdateDebtInput struct {
	Amount          decimal.Decimal `json:"amount" binding:"required"`
	CurrencyCode    string          `json:"currency_code" binding:"required"`
	TransactionDate time.Time       `json:"transaction_date" binding:"required"`
	Note            string          `json:"note"`
	ReceiptId       *int            `json:"receipt_id"`
}

func (input *NewDebt) validate(ctx context.Context, accountId int) error {
	if input.Amount.IsZero() {
		return errors.New("amount cannot be zero")
	}
	if len(input.CurrencyCode) != 3 {
		return errors.New("currency code must be 3 letters")
	}
	if err := utils.ValidateResourceId[User](ctx, accountId, input.UserId); err != nil {
		return errors.New("counterparty user not found")
	}
	if input.ReceiptId != nil {
		if err := utils.ValidateResourceId[Receipt](ctx, accountId, *input.ReceiptId); err != nil {
			return errors.New("receipt not found")
		}
	}
	return nil
}

// CreateDebt is the direct-action lifecycle path: the owner records a debt on
// its own side only. The counterparty sees it as a pending intention until
// accepted.
func CreateDebt(ctx context.Context, input *NewDebt) (*Debt, error) {

	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId <= 0 {
		return nil, errors.New("account id is required")
	}

	if err := input.validate(ctx, accountId); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	debt := Debt{
		OwnerAccountId:  accountId,
		UserId:          input.UserId,
		Amount:          input.Amount,
		CurrencyCode:    input.CurrencyCode,
		TransactionDate: input.TransactionDate,
		Note:            input.Note,
		ReceiptId:       input.ReceiptId,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&debt).Error; err != nil {
			return err
		}
		return queueDebtEvent(ctx, tx, &debt, DebtEventActionCreated)
	})
	if err != nil {
		return nil, err
	}
	return &debt, nil
}

// UpdateDebt mutates the caller's own row and bumps its mutation clock.
func UpdateDebt(ctx context.Context, id int, input *UpdateDebtInput) (*Debt, error) {

	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId <= 0 {
		return nil, errors.New("account id is required")
	}
	if input.Amount.IsZero() {
		return nil, errors.New("amount cannot be zero")
	}

	db := config.GetDB()

	var debt Debt
	if err := db.WithContext(ctx).
		Where("id = ? AND owner_account_id = ?", id, accountId).
		Take(&debt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Debt{}).
			Where("id = ? AND owner_account_id = ?", id, accountId).
			Updates(map[string]interface{}{
				"amount":           input.Amount,
				"currency_code":    input.CurrencyCode,
				"transaction_date": input.TransactionDate,
				"note":             input.Note,
				"receipt_id":       input.ReceiptId,
				"updated_at":       now,
			}).Error; err != nil {
			return err
		}

		debt.Amount = input.Amount
		debt.CurrencyCode = input.CurrencyCode
		debt.TransactionDate = input.TransactionDate
		debt.Note = input.Note
		debt.ReceiptId = input.ReceiptId
		debt.UpdatedAt = now

		return queueDebtEvent(ctx, tx, &debt, DebtEventActionUpdated)
	})
	if err != nil {
		return nil, err
	}
	return &debt, nil
}

func GetDebts(ctx context.Context, limit int) ([]LocalDebt, error) {

	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId <= 0 {
		return nil, errors.New("account id is required")
	}
	if limit <= 0 || limit > config.SearchLimit {
		limit = config.SearchLimit
	}

	var debts []Debt
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("owner_account_id = ?", accountId).
		Order("transaction_date DESC, id DESC").
		Limit(limit).
		Find(&debts).Error; err != nil {
		return nil, err
	}

	locals := make([]LocalDebt, 0, len(debts))
	for _, d := range debts {
		locals = append(locals, d.LocalView())
	}
	return locals, nil
}

// PendingIntention pairs a foreign row with the caller's local copy, if any.
type PendingIntention struct {
	Foreign ForeignDebt `json:"foreign"`
	Local   *LocalDebt  `json:"local,omitempty"`
}

// GetPendingIntentions lists foreign rows addressed to the caller that are
// unmirrored, or mirrored but diverged - the candidates for acceptance.
func GetPendingIntentions(ctx context.Context) ([]PendingIntention, error) {

	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId <= 0 {
		return nil, errors.New("account id is required")
	}

	// foreign rows whose counterparty user links back to the caller
	var foreign []Debt
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Joins("JOIN users ON users.id = debts.user_id AND users.account_id = debts.owner_account_id").
		Where("users.linked_account_id = ? AND debts.owner_account_id <> ?", accountId, accountId).
		Order("debts.transaction_date DESC, debts.id DESC").
		Find(&foreign).Error; err != nil {
		return nil, err
	}
	if len(foreign) == 0 {
		return []PendingIntention{}, nil
	}

	ids := make([]int, 0, len(foreign))
	for _, d := range foreign {
		ids = append(ids, d.ID)
	}

	var mirrored []Debt
	if err := db.WithContext(ctx).
		Where("owner_account_id = ? AND id IN ?", accountId, ids).
		Find(&mirrored).Error; err != nil {
		return nil, err
	}
	localById := make(map[int]Debt, len(mirrored))
	for _, d := range mirrored {
		localById[d.ID] = d
	}

	intentions := make([]PendingIntention, 0, len(foreign))
	for _, f := range foreign {
		local, mirroredHere := localById[f.ID]
		if mirroredHere && local.Amount.Equal(f.Amount.Neg()) &&
			local.CurrencyCode == f.CurrencyCode &&
			local.TransactionDate.Equal(f.TransactionDate) {
			// fully mirrored, nothing pending
			continue
		}
		intention := PendingIntention{Foreign: f.ForeignView()}
		if mirroredHere {
			lv := local.LocalView()
			intention.Local = &lv
		}
		intentions = append(intentions, intention)
	}
	return intentions, nil
}
