package models

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tabshare/tabshare_backend/config"
	"github.com/tabshare/tabshare_backend/utils"
	"gorm.io/gorm"
)

// ExpectedDebt is the derived target a participant's local row should match:
// the expected signed sum plus the receipt context it came from.
type ExpectedDebt struct {
	Amount          decimal.Decimal `json:"amount"`
	CurrencyCode    string          `json:"currency_code"`
	TransactionDate time.Time       `json:"transaction_date"`
	ReceiptId       *int            `json:"receipt_id"`
}

// DebtSyncStatus is the classifier's verdict: the state plus the one action
// it permits, if any.
type DebtSyncStatus struct {
	State  DebtSyncState  `json:"state"`
	Action DebtSyncAction `json:"action,omitempty"`
}

// ClassifyDebtSync computes one participant's synchronization state against
// their existing local row. Pure: identical inputs always yield identical
// output, and nothing is mutated.
//
// The foreign row is display-only context for callers; it never gates which
// action is offered.
func ClassifyDebtSync(expected ExpectedDebt, local *LocalDebt, foreign *ForeignDebt) DebtSyncStatus {
	if expected.Amount.IsZero() {
		return DebtSyncStatus{State: DebtSyncStateZero}
	}
	if local == nil {
		return DebtSyncStatus{State: DebtSyncStateNonExistent, Action: DebtSyncActionCreate}
	}

	if !local.Amount.Equal(expected.Amount) ||
		local.CurrencyCode != expected.CurrencyCode ||
		!local.TransactionDate.Equal(expected.TransactionDate) ||
		!intPtrEqual(local.ReceiptId, expected.ReceiptId) {
		return DebtSyncStatus{State: DebtSyncStateDesynced, Action: DebtSyncActionUpdate}
	}
	return DebtSyncStatus{State: DebtSyncStateSynced}
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ParticipantExpectedSum derives the signed amount one participant owes the
// receipt owner: their fraction of every item total, minus what they already
// paid. Positive means "owes the receipt owner".
func ParticipantExpectedSum(receipt *Receipt, participant *ReceiptParticipant) decimal.Decimal {
	if participant.PartDenominator == 0 {
		return decimal.Zero
	}

	share := receipt.ReceiptTotal().
		Mul(decimal.NewFromInt(int64(participant.PartNumerator))).
		Div(decimal.NewFromInt(int64(participant.PartDenominator)))

	paid := decimal.Zero
	for _, payer := range receipt.Payers {
		if payer.UserId == participant.UserId {
			paid = paid.Add(payer.Amount)
		}
	}
	return share.Sub(paid)
}

// ParticipantSyncSummary annotates one receipt participant with the
// classifier's verdict plus the rows backing it.
type ParticipantSyncSummary struct {
	UserId   int             `json:"user_id"`
	Expected decimal.Decimal `json:"expected"`
	Status   DebtSyncStatus  `json:"status"`
	Local    *LocalDebt      `json:"local,omitempty"`
	Foreign  *ForeignDebt    `json:"foreign,omitempty"`
}

// ReceiptSyncSummary is the receipt-level aggregate the summary/detail read
// paths return: per-participant states plus the pending-action id groups in
// participant iteration order.
type ReceiptSyncSummary struct {
	ReceiptId            int                      `json:"receipt_id"`
	CurrencyCode         string                   `json:"currency_code"`
	IssuedAt             time.Time                `json:"issued_at"`
	NetExpected          decimal.Decimal          `json:"net_expected"`
	Direction            string                   `json:"direction"`
	Participants         []ParticipantSyncSummary `json:"participants"`
	PendingCreateUserIds []int                    `json:"pending_create_user_ids"`
	PendingUpdateDebtIds []int                    `json:"pending_update_debt_ids"`
}

// GetReceiptSyncSummary classifies every participant of the caller's receipt
// against the caller's ledger and reports which propagation actions are
// pending.
func GetReceiptSyncSummary(ctx context.Context, receiptId int) (*ReceiptSyncSummary, error) {

	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId <= 0 {
		return nil, errors.New("account id is required")
	}

	receipt, err := GetReceipt(ctx, receiptId)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()

	// the caller's rows generated by this receipt
	var locals []Debt
	if err := db.WithContext(ctx).
		Where("owner_account_id = ? AND receipt_id = ?", accountId, receipt.ID).
		Find(&locals).Error; err != nil {
		return nil, err
	}
	localByUser := make(map[int]Debt, len(locals))
	localIds := make([]int, 0, len(locals))
	for _, d := range locals {
		localByUser[d.UserId] = d
		localIds = append(localIds, d.ID)
	}

	// mirrored foreign copies, display-only
	foreignById := make(map[int]Debt)
	if len(localIds) > 0 {
		var mirrored []Debt
		if err := db.WithContext(ctx).
			Where("id IN ? AND owner_account_id <> ?", localIds, accountId).
			Find(&mirrored).Error; err != nil {
			return nil, err
		}
		for _, d := range mirrored {
			foreignById[d.ID] = d
		}
	}

	summary := ReceiptSyncSummary{
		ReceiptId:    receipt.ID,
		CurrencyCode: receipt.CurrencyCode,
		IssuedAt:     receipt.IssuedAt,
		NetExpected:  decimal.Zero,
	}

	for i := range receipt.Participants {
		participant := &receipt.Participants[i]

		expected := ExpectedDebt{
			Amount:          ParticipantExpectedSum(receipt, participant),
			CurrencyCode:    receipt.CurrencyCode,
			TransactionDate: receipt.IssuedAt,
			ReceiptId:       &receipt.ID,
		}

		var local *LocalDebt
		var foreign *ForeignDebt
		if d, ok := localByUser[participant.UserId]; ok {
			lv := d.LocalView()
			local = &lv
			if f, ok := foreignById[d.ID]; ok {
				fv := f.ForeignView()
				foreign = &fv
			}
		}

		status := ClassifyDebtSync(expected, local, foreign)

		summary.NetExpected = summary.NetExpected.Add(expected.Amount)
		summary.Participants = append(summary.Participants, ParticipantSyncSummary{
			UserId:   participant.UserId,
			Expected: expected.Amount,
			Status:   status,
			Local:    local,
			Foreign:  foreign,
		})

		switch status.Action {
		case DebtSyncActionCreate:
			summary.PendingCreateUserIds = append(summary.PendingCreateUserIds, participant.UserId)
		case DebtSyncActionUpdate:
			summary.PendingUpdateDebtIds = append(summary.PendingUpdateDebtIds, local.ID)
		}
	}

	switch {
	case summary.NetExpected.IsPositive():
		summary.Direction = "incoming"
	case summary.NetExpected.IsNegative():
		summary.Direction = "outgoing"
	default:
		summary.Direction = "settled"
	}

	return &summary, nil
}

// PropagationResult reports what a propagate-all run touched.
type PropagationResult struct {
	CreatedUserIds []int `json:"created_user_ids"`
	UpdatedDebtIds []int `json:"updated_debt_ids"`
}

// PropagateReceiptDebts pushes the receipt's expected sums into the caller's
// ledger: one bulk create for every NON_EXISTENT participant and one bulk
// update for every DESYNCED one, submitted concurrently. Order within each
// group follows participant iteration order. SYNCED and ZERO participants
// are untouched. Each touched row queues a debt event inside its own
// transaction, same as the direct create/update paths.
func PropagateReceiptDebts(ctx context.Context, receiptId int) (*PropagationResult, error) {

	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId <= 0 {
		return nil, errors.New("account id is required")
	}

	summary, err := GetReceiptSyncSummary(ctx, receiptId)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	db := config.GetDB()

	var toCreate []Debt
	type revision struct {
		debtId   int
		userId   int
		expected ExpectedDebt
	}
	var toUpdate []revision

	for _, p := range summary.Participants {
		switch p.Status.Action {
		case DebtSyncActionCreate:
			toCreate = append(toCreate, Debt{
				OwnerAccountId:  accountId,
				UserId:          p.UserId,
				Amount:          p.Expected,
				CurrencyCode:    summary.CurrencyCode,
				TransactionDate: summary.IssuedAt,
				ReceiptId:       &summary.ReceiptId,
				CreatedAt:       now,
				UpdatedAt:       now,
			})
		case DebtSyncActionUpdate:
			toUpdate = append(toUpdate, revision{debtId: p.Local.ID, userId: p.UserId, expected: ExpectedDebt{
				Amount:          p.Expected,
				CurrencyCode:    summary.CurrencyCode,
				TransactionDate: summary.IssuedAt,
				ReceiptId:       &summary.ReceiptId,
			}})
		}
	}

	var wg sync.WaitGroup
	var createErr, updateErr error

	if len(toCreate) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			createErr = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if err := tx.Create(&toCreate).Error; err != nil {
					return err
				}
				for i := range toCreate {
					if err := queueDebtEvent(ctx, tx, &toCreate[i], DebtEventActionCreated); err != nil {
						return err
					}
				}
				return nil
			})
		}()
	}
	if len(toUpdate) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			updateErr = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				for _, rev := range toUpdate {
					revised := Debt{
						ID:              rev.debtId,
						OwnerAccountId:  accountId,
						UserId:          rev.userId,
						Amount:          rev.expected.Amount,
						CurrencyCode:    rev.expected.CurrencyCode,
						TransactionDate: rev.expected.TransactionDate,
						ReceiptId:       rev.expected.ReceiptId,
						UpdatedAt:       now,
					}
					if err := tx.Model(&Debt{}).
						Where("id = ? AND owner_account_id = ?", rev.debtId, accountId).
						Updates(map[string]interface{}{
							"amount":           rev.expected.Amount,
							"currency_code":    rev.expected.CurrencyCode,
							"transaction_date": rev.expected.TransactionDate,
							"receipt_id":       rev.expected.ReceiptId,
							"updated_at":       now,
						}).Error; err != nil {
						return err
					}
					if err := queueDebtEvent(ctx, tx, &revised, DebtEventActionUpdated); err != nil {
						return err
					}
				}
				return nil
			})
		}()
	}
	wg.Wait()

	if createErr != nil {
		return nil, createErr
	}
	if updateErr != nil {
		return nil, updateErr
	}

	result := PropagationResult{}
	for _, d := range toCreate {
		result.CreatedUserIds = append(result.CreatedUserIds, d.UserId)
	}
	for _, rev := range toUpdate {
		result.UpdatedDebtIds = append(result.UpdatedDebtIds, rev.debtId)
	}
	return &result, nil
}
