package models

import (
	"context"
	"errors"
	"fmt"
	"html"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tabshare/tabshare_backend/config"
	"github.com/tabshare/tabshare_backend/utils"
	"gorm.io/gorm"
)

// Account is an authenticated principal. Every account owns its own copy of
// each debt it is party to; no ledger row is shared between accounts.
type Account struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email     *string   `gorm:"size:100;unique" json:"email"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Password  string    `gorm:"size:255;not null" json:"password"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewAccount struct {
	Username string `json:"username" binding:"required"`
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password" binding:"required"`
}

type LoginInfo struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

/*
caches:
	Account:$username
*/

func (account Account) RemoveInstanceRedis() error {
	if err := config.RemoveRedisKey("Account:" + account.Username); err != nil {
		return err
	}
	return nil
}

func (result *Account) PrepareGive() {
	result.Password = ""
}

func (input *NewAccount) validate(ctx context.Context) error {
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return errors.New("invalid email")
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return errors.New("invalid phone number")
		}
	}

	var count int64
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&Account{}).
		Where("username = ?", input.Username).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return errors.New("duplicate username")
	}
	return nil
}

func RegisterAccount(ctx context.Context, input *NewAccount) (*Account, error) {

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	account := Account{
		Username: html.EscapeString(strings.TrimSpace(input.Username)),
		Name:     input.Name,
		Phone:    utils.NormalizePhoneNumber(input.Phone, utils.CountryCode),
		Password: string(hashed),
		IsActive: utils.NewTrue(),
	}
	if input.Email != "" {
		account.Email = &input.Email
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, err
	}

	account.PrepareGive()
	return &account, nil
}

// GetAccountByUsername reads through the redis cache.
func GetAccountByUsername(ctx context.Context, username string) (*Account, error) {
	var account Account
	exists, err := config.GetRedisObject("Account:"+username, &account)
	if err != nil {
		return nil, err
	}

	if !exists {
		db := config.GetDB()
		if err := db.WithContext(ctx).Model(&Account{}).Where("username = ?", username).Take(&account).Error; err != nil {
			return nil, err
		}

		tokenLifespan, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
		if err != nil {
			tokenLifespan = 24
		}
		if err := config.SetRedisObject("Account:"+account.Username, &account, time.Duration(tokenLifespan)*time.Hour); err != nil {
			return nil, err
		}
	}
	return &account, nil
}

func Login(ctx context.Context, username string, password string) (*LoginInfo, error) {

	var account Account
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&Account{}).Where("username = ?", username).Take(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("invalid username or password")
		}
		return nil, err
	}

	if !*account.IsActive {
		return nil, errors.New("account is disabled")
	}

	if err := utils.ComparePassword(account.Password, password); err != nil {
		return nil, errors.New("invalid username or password")
	}

	token, err := utils.JwtGenerate(account.ID, account.Username)
	if err != nil {
		return nil, err
	}

	tokenLifespan, err := strconv.Atoi(os.Getenv("TOKEN_HOUR_LIFESPAN"))
	if err != nil {
		tokenLifespan = 24
	}
	if err := config.SetRedisValue("Token:"+token, account.Username, time.Duration(tokenLifespan)*time.Hour); err != nil {
		return nil, err
	}
	if err := config.AddRedisSet("Tokens:"+account.Username, token); err != nil {
		return nil, err
	}

	return &LoginInfo{Token: token, Name: account.Name}, nil
}

// destroy current session
func Logout(ctx context.Context) (bool, error) {
	token, ok := utils.GetTokenFromContext(ctx)
	if !ok || token == "" {
		return false, errors.New("token is required")
	}
	err := config.RemoveRedisKey("Token:" + fmt.Sprint(token))
	if err != nil {
		return false, nil
	}
	// remove current token from tokens list
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return false, errors.New("account not found")
	}
	if err := config.RemoveRedisSetMember("Tokens:"+username, token); err != nil {
		return false, err
	}
	return true, nil
}

// LogoutAll revokes every live session of the caller, not just the current
// one. Returns how many tokens were dropped.
func LogoutAll(ctx context.Context) (int, error) {
	username, ok := utils.GetUsernameFromContext(ctx)
	if !ok || username == "" {
		return 0, errors.New("account not found")
	}

	tokens, err := config.GetRedisSetMembers("Tokens:" + username)
	if err != nil {
		return 0, err
	}
	for _, token := range tokens {
		if err := config.RemoveRedisKey("Token:" + token); err != nil {
			return 0, err
		}
	}
	if err := config.RemoveRedisKey("Tokens:" + username); err != nil {
		return 0, err
	}
	return len(tokens), nil
}
