package reports

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/tabshare/tabshare_backend/config"
	"github.com/tabshare/tabshare_backend/utils"
	"github.com/xuri/excelize/v2"
)

// DebtLedgerRow is one line of the caller's ledger export: the caller's own
// debts joined to the counterparty name, with running receipt context.
type DebtLedgerRow struct {
	DebtId          int             `json:"debt_id"`
	UserName        string          `json:"user_name"`
	Amount          decimal.Decimal `json:"amount"`
	CurrencyCode    string          `json:"currency_code"`
	TransactionDate string          `json:"transaction_date"`
	Note            string          `json:"note"`
	ReceiptLabel    *string         `json:"receipt_label"`
}

func getDebtLedgerRows(ctx context.Context, accountId int) ([]*DebtLedgerRow, error) {
	sql := `
SELECT
    debts.id AS debt_id,
    users.name AS user_name,
    debts.amount,
    debts.currency_code,
    DATE_FORMAT(debts.transaction_date, '%Y-%m-%d') AS transaction_date,
    debts.note,
    receipts.note AS receipt_label
FROM
    debts
    JOIN users ON users.id = debts.user_id
        AND users.account_id = debts.owner_account_id
    LEFT JOIN receipts ON receipts.id = debts.receipt_id
WHERE
    debts.owner_account_id = ?
ORDER BY
    debts.transaction_date ASC, debts.id ASC;
`

	var records []*DebtLedgerRow
	db := config.GetDB()
	if err := db.WithContext(ctx).Raw(sql, accountId).Scan(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// WriteDebtLedgerXlsx streams the caller's ledger as a workbook. The caller
// owns the response headers; this only writes the file body.
func WriteDebtLedgerXlsx(ctx context.Context, accountId int, w io.Writer) error {
	rows, err := getDebtLedgerRows(ctx, accountId)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	sheet := "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	f.SetCellValue(sheet, "A1", "Date")
	f.SetCellValue(sheet, "B1", "Counterparty")
	f.SetCellValue(sheet, "C1", "Amount")
	f.SetCellValue(sheet, "D1", "Currency")
	f.SetCellValue(sheet, "E1", "Note")
	f.SetCellValue(sheet, "F1", "Receipt")

	for i, row := range rows {
		n := fmt.Sprint(i + 2)
		f.SetCellValue(sheet, "A"+n, row.TransactionDate)
		f.SetCellValue(sheet, "B"+n, row.UserName)
		amount, _ := row.Amount.Float64()
		f.SetCellValue(sheet, "C"+n, amount)
		f.SetCellValue(sheet, "D"+n, row.CurrencyCode)
		f.SetCellValue(sheet, "E"+n, row.Note)
		f.SetCellValue(sheet, "F"+n, utils.DereferencePtr(row.ReceiptLabel, ""))
	}

	return f.Write(w)
}
