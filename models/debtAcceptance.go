package models

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/shopspring/decimal"
	"github.com/tabshare/tabshare_backend/batcher"
	"github.com/tabshare/tabshare_backend/config"
	"github.com/tabshare/tabshare_backend/utils"
	"gorm.io/gorm"
)

// acceptClockBump is the margin added on top of the newer of the two sides'
// mutation clocks when a foreign debt is accepted. The accepting side must
// end up strictly more recent than what it just accepted, or later
// divergence detection would misread who moved last.
const acceptClockBump = time.Minute

// DebtAcceptResult is the per-id success payload: the mutation clock of the
// row the merge touched.
type DebtAcceptResult struct {
	UpdatedAt time.Time `json:"updated_at"`
}

// DebtNotFoundError rejects a single requested id without disturbing its
// window siblings.
type DebtNotFoundError struct {
	Code string `json:"code"`
	Id   int    `json:"id"`
}

func (e *DebtNotFoundError) Error() string {
	return fmt.Sprintf("%s: debt %d does not resolve to an acceptable foreign row", e.Code, e.Id)
}

func newDebtNotFoundError(id int) *DebtNotFoundError {
	return &DebtNotFoundError{Code: ErrorCodeNotFound, Id: id}
}

// acceptRow is one row of the bulk eligibility query: a foreign debt joined
// to the caller's relation for its owner and to the caller's own copy, if any.
type acceptRow struct {
	ID                 int
	OwnerAccountId     int
	Amount             decimal.Decimal
	CurrencyCode       string
	TransactionDate    time.Time
	Note               string
	ReceiptId          *int
	ForeignUpdatedAt   time.Time
	CounterpartyUserId int
	LocalId            *int
	LocalUpdatedAt     *time.Time
}

// acceptPlan partitions one window's requested ids.
type acceptPlan struct {
	rowById  map[int]acceptRow
	toCreate []int
	toUpdate []int
	notFound map[int]bool
}

// planAcceptance classifies each requested id: no eligible foreign row means
// not-found, an existing local copy means update, otherwise create. Rows the
// caller already owns are skipped defensively; the fetch query should never
// produce them.
func planAcceptance(callerId int, requested []int, rows []acceptRow) acceptPlan {
	plan := acceptPlan{
		rowById:  make(map[int]acceptRow, len(rows)),
		notFound: make(map[int]bool),
	}
	for _, row := range rows {
		if row.OwnerAccountId == callerId {
			continue
		}
		plan.rowById[row.ID] = row
	}

	seen := make(map[int]bool, len(requested))
	for _, id := range requested {
		if seen[id] {
			continue
		}
		seen[id] = true

		row, ok := plan.rowById[id]
		if !ok {
			plan.notFound[id] = true
			continue
		}
		if row.LocalId != nil {
			plan.toUpdate = append(plan.toUpdate, id)
		} else {
			plan.toCreate = append(plan.toCreate, id)
		}
	}
	return plan
}

// mergeClockAfterAccept computes the accepted row's mutation clock: the
// newer of the two sides bumped by acceptClockBump, floored at now. The
// result is strictly greater than both prior clocks.
func mergeClockAfterAccept(now time.Time, localUpdatedAt *time.Time, foreignUpdatedAt time.Time) time.Time {
	clock := foreignUpdatedAt
	if localUpdatedAt != nil && localUpdatedAt.After(clock) {
		clock = *localUpdatedAt
	}
	clock = clock.Add(acceptClockBump)
	if now.After(clock) {
		clock = now
	}
	return clock
}

// DebtAcceptFunc mirrors one foreign debt onto the caller's side of the
// ledger, creating or overwriting the caller's copy with the negated amount.
// Calls issued inside one coalescing window ride a single bulk operation;
// each id still succeeds or fails on its own.
type DebtAcceptFunc func(ctx context.Context, id int) (*DebtAcceptResult, error)

// RegisterDebtAcceptance wires the acceptance resolver into the given batch
// registry and returns the per-id call bound to it. Concurrent calls from
// one account then share a single bulk fetch + merge per coalescing window.
// Callers hold the returned func; registering into a second registry yields
// an independent call, it never rebinds an earlier one. Caching is disabled:
// accepting the same id again must re-run the merge, not replay a result.
func RegisterDebtAcceptance(reg *batcher.Registry) DebtAcceptFunc {
	return batcher.Register(reg, "debt.accept", acceptForeignDebts, batcher.Options{
		CacheEnabled: false,
	})
}

func fetchAcceptRows(ctx context.Context, callerId int, ids []int) ([]acceptRow, error) {
	var rows []acceptRow
	db := config.GetDB()
	err := db.WithContext(ctx).Raw(`
SELECT d.id,
       d.owner_account_id,
       d.amount,
       d.currency_code,
       d.transaction_date,
       d.note,
       d.receipt_id,
       d.updated_at AS foreign_updated_at,
       rel.id AS counterparty_user_id,
       l.id AS local_id,
       l.updated_at AS local_updated_at
FROM debts d
JOIN users rel
  ON rel.account_id = ?
 AND rel.linked_account_id = d.owner_account_id
LEFT JOIN debts l
  ON l.id = d.id
 AND l.owner_account_id = ?
WHERE d.id IN ? AND d.owner_account_id <> ?`,
		callerId, callerId, utils.UniqueSlice(ids), callerId).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// acceptForeignDebts is the bulk resolver behind AcceptDebt. One result per
// requested id, in request order; a not-found id rejects only its own slot
// while sibling merges still commit.
func acceptForeignDebts(ctx context.Context, ids []int) []*dataloader.Result[*DebtAcceptResult] {
	logger := config.GetLogger()

	callerId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || callerId <= 0 {
		return batcher.ErrorResults[*DebtAcceptResult](len(ids), errors.New("account id is required"))
	}

	rows, err := fetchAcceptRows(ctx, callerId, ids)
	if err != nil {
		config.LogError(logger, "debtAcceptance.go", "acceptForeignDebts", "fetchAcceptRows", ids, err)
		return batcher.ErrorResults[*DebtAcceptResult](len(ids), err)
	}

	plan := planAcceptance(callerId, ids, rows)
	now := time.Now().UTC()
	db := config.GetDB()

	clockById := make(map[int]time.Time, len(plan.toCreate)+len(plan.toUpdate))
	for _, id := range plan.toCreate {
		row := plan.rowById[id]
		clockById[id] = mergeClockAfterAccept(now, nil, row.ForeignUpdatedAt)
	}
	for _, id := range plan.toUpdate {
		row := plan.rowById[id]
		clockById[id] = mergeClockAfterAccept(now, row.LocalUpdatedAt, row.ForeignUpdatedAt)
	}

	// updates and creates touch disjoint id sets, so they run concurrently;
	// the update transaction stays all-or-nothing on its own
	var wg sync.WaitGroup
	var updateErr, createErr error

	if len(plan.toUpdate) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			updateErr = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				for _, id := range plan.toUpdate {
					row := plan.rowById[id]
					merged := Debt{
						ID:              id,
						OwnerAccountId:  callerId,
						UserId:          row.CounterpartyUserId,
						Amount:          row.Amount.Neg(),
						CurrencyCode:    row.CurrencyCode,
						TransactionDate: row.TransactionDate,
						UpdatedAt:       clockById[id],
					}
					if err := tx.Model(&Debt{}).
						Where("id = ? AND owner_account_id = ?", id, callerId).
						Updates(map[string]interface{}{
							"amount":           merged.Amount,
							"currency_code":    merged.CurrencyCode,
							"transaction_date": merged.TransactionDate,
							"updated_at":       merged.UpdatedAt,
						}).Error; err != nil {
						return err
					}
					if err := queueDebtEvent(ctx, tx, &merged, DebtEventActionAccepted); err != nil {
						return err
					}
				}
				return nil
			})
		}()
	}

	if len(plan.toCreate) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mirrors := make([]Debt, 0, len(plan.toCreate))
			for _, id := range plan.toCreate {
				row := plan.rowById[id]
				mirrors = append(mirrors, Debt{
					ID:              id,
					OwnerAccountId:  callerId,
					UserId:          row.CounterpartyUserId,
					Amount:          row.Amount.Neg(),
					CurrencyCode:    row.CurrencyCode,
					TransactionDate: row.TransactionDate,
					Note:            row.Note,
					ReceiptId:       row.ReceiptId,
					CreatedAt:       now,
					UpdatedAt:       clockById[id],
				})
			}
			createErr = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				if err := tx.Create(&mirrors).Error; err != nil {
					return err
				}
				for i := range mirrors {
					if err := queueDebtEvent(ctx, tx, &mirrors[i], DebtEventActionAccepted); err != nil {
						return err
					}
				}
				return nil
			})
		}()
	}

	wg.Wait()

	if updateErr != nil {
		config.LogError(logger, "debtAcceptance.go", "acceptForeignDebts", "apply updates", plan.toUpdate, updateErr)
	}
	if createErr != nil {
		config.LogError(logger, "debtAcceptance.go", "acceptForeignDebts", "apply creates", plan.toCreate, createErr)
	}

	updated := make(map[int]bool, len(plan.toUpdate))
	for _, id := range plan.toUpdate {
		updated[id] = true
	}

	results := make([]*dataloader.Result[*DebtAcceptResult], 0, len(ids))
	for _, id := range ids {
		switch {
		case plan.notFound[id]:
			results = append(results, &dataloader.Result[*DebtAcceptResult]{Error: newDebtNotFoundError(id)})
		case updated[id] && updateErr != nil:
			results = append(results, &dataloader.Result[*DebtAcceptResult]{Error: updateErr})
		case !updated[id] && createErr != nil:
			results = append(results, &dataloader.Result[*DebtAcceptResult]{Error: createErr})
		default:
			results = append(results, &dataloader.Result[*DebtAcceptResult]{Data: &DebtAcceptResult{UpdatedAt: clockById[id]}})
		}
	}
	return results
}
