package utils

import (
	"context"
	"errors"
	"reflect"

	"github.com/tabshare/tabshare_backend/config"
)

// check if id exists, using the owning account in WHERE, return RecordNotFound error
func ValidateResourceId[T any](ctx context.Context, accountId int, id interface{}) error {

	count, err := ResourceCountWhere[T](ctx, accountId, "id = ?", id)
	if err != nil {
		return err
	}
	if count <= 0 {
		return ErrorRecordNotFound
	}

	return nil
}

func ValidateUnique[T any](ctx context.Context, accountId int, column string, value interface{}, exceptId interface{}) error {
	var count int64
	var err error
	if reflect.ValueOf(exceptId).IsZero() {
		count, err = ResourceCountWhere[T](ctx, accountId, column+" = ?", value)
	} else {
		count, err = ResourceCountWhere[T](ctx, accountId, column+" = ? AND NOT id = ?", value, exceptId)
	}

	if err != nil {
		return err
	}
	if count > 0 {
		return errors.New("duplicate " + column)
	}
	return nil
}

// count records, using WHERE account_id = ? AND $condition
// accountId can be zero for unscoped counts
func ResourceCountWhere[T any](ctx context.Context, accountId int, condition string, value ...interface{}) (int64, error) {
	var model T

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Model(&model)
	var count int64
	if accountId > 0 {
		dbCtx.Where("account_id = ?", accountId)
	}
	dbCtx.Where(condition, value...)
	if err := dbCtx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
