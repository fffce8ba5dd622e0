package models

import (
	"context"
	"errors"
	"time"

	"github.com/tabshare/tabshare_backend/config"
	"github.com/tabshare/tabshare_backend/utils"
)

// User is an account's private counterparty record - an address-book entry.
// When LinkedAccountId is set, the entry resolves that foreign account into
// a local user id; the acceptance protocol depends on this relation to mirror
// a foreign debt onto the caller's side.
type User struct {
	ID              int       `gorm:"primary_key" json:"id"`
	AccountId       int       `gorm:"index;not null" json:"account_id"`
	Name            string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email           *string   `gorm:"size:100" json:"email"`
	LinkedAccountId *int      `gorm:"index" json:"linked_account_id"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Name            string `json:"name" binding:"required"`
	Email           string `json:"email"`
	LinkedAccountId *int   `json:"linked_account_id"`
}

func (input *NewUser) validate(ctx context.Context, accountId int) error {
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return errors.New("invalid email")
	}
	if input.LinkedAccountId != nil {
		if *input.LinkedAccountId == accountId {
			return errors.New("cannot link a user to the owning account")
		}

		var count int64
		db := config.GetDB()
		if err := db.WithContext(ctx).Model(&Account{}).
			Where("id = ?", *input.LinkedAccountId).
			Count(&count).Error; err != nil {
			return err
		}
		if count <= 0 {
			return errors.New("linked account not found")
		}

		// one relation per foreign account: the acceptance join must resolve
		// an owner to exactly one local user
		if err := utils.ValidateUnique[User](ctx, accountId, "linked_account_id", *input.LinkedAccountId, 0); err != nil {
			return errors.New("foreign account already linked")
		}
	}
	return nil
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {

	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId <= 0 {
		return nil, errors.New("account id is required")
	}

	if err := input.validate(ctx, accountId); err != nil {
		return nil, err
	}

	user := User{
		AccountId:       accountId,
		Name:            input.Name,
		LinkedAccountId: input.LinkedAccountId,
	}
	if input.Email != "" {
		user.Email = &input.Email
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func GetUsers(ctx context.Context) ([]*User, error) {

	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId <= 0 {
		return nil, errors.New("account id is required")
	}

	var users []*User
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("account_id = ?", accountId).
		Order("name ASC").
		Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func GetUser(ctx context.Context, id int) (*User, error) {

	accountId, ok := utils.GetAccountIdFromContext(ctx)
	if !ok || accountId <= 0 {
		return nil, errors.New("account id is required")
	}

	var user User
	db := config.GetDB()
	if err := db.WithContext(ctx).
		Where("account_id = ?", accountId).
		Take(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
