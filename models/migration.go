package models

import (
	"github.com/tabshare/tabshare_backend/config"
	"github.com/tabshare/tabshare_backend/utils"
)

func MigrateTable() {
	db := config.GetDB()
	utils.ErrorPanic(db.AutoMigrate(
		&Account{},
		&User{},
		&Receipt{},
		&ReceiptItem{},
		&ReceiptParticipant{},
		&ReceiptPayer{},
		&Debt{},
		&DebtEvent{},
	))
}
