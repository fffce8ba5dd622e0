package middlewares

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/tabshare/tabshare_backend/config"
	"github.com/tabshare/tabshare_backend/models"
	"github.com/tabshare/tabshare_backend/utils"
	"gorm.io/gorm"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders wrap per-request data loaders to inject via middleware
type Loaders struct {
	UserLoader    *dataloader.Loader[int, *models.User]
	ReceiptLoader *dataloader.Loader[int, *models.Receipt]
	AccountLoader *dataloader.Loader[int, *models.Account]
}

type userReader struct {
	db *gorm.DB
}

func (r *userReader) getUsers(ctx context.Context, ids []int) []*dataloader.Result[*models.User] {
	accountId, _ := utils.GetAccountIdFromContext(ctx)

	var results []models.User
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountId).
		Where("id IN ?", ids).
		Find(&results).Error
	if err != nil {
		return handleError[*models.User](len(ids), err)
	}
	return generateLoaderResults(results, ids, func(u *models.User) int { return u.ID })
}

type receiptReader struct {
	db *gorm.DB
}

func (r *receiptReader) getReceipts(ctx context.Context, ids []int) []*dataloader.Result[*models.Receipt] {
	accountId, _ := utils.GetAccountIdFromContext(ctx)

	var results []models.Receipt
	err := r.db.WithContext(ctx).
		Preload("Items").
		Preload("Participants").
		Preload("Payers").
		Where("account_id = ?", accountId).
		Where("id IN ?", ids).
		Find(&results).Error
	if err != nil {
		return handleError[*models.Receipt](len(ids), err)
	}
	return generateLoaderResults(results, ids, func(rc *models.Receipt) int { return rc.ID })
}

type accountReader struct {
	db *gorm.DB
}

func (r *accountReader) getAccounts(ctx context.Context, ids []int) []*dataloader.Result[*models.Account] {
	var results []models.Account
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error
	if err != nil {
		return handleError[*models.Account](len(ids), err)
	}
	return generateLoaderResults(results, ids, func(a *models.Account) int { return a.ID })
}

func NewLoaders(conn *gorm.DB) *Loaders {
	userReader := &userReader{db: conn}
	receiptReader := &receiptReader{db: conn}
	accountReader := &accountReader{db: conn}

	return &Loaders{
		UserLoader:    dataloader.NewBatchedLoader(userReader.getUsers, dataloader.WithWait[int, *models.User](time.Millisecond)),
		ReceiptLoader: dataloader.NewBatchedLoader(receiptReader.getReceipts, dataloader.WithWait[int, *models.Receipt](time.Millisecond)),
		AccountLoader: dataloader.NewBatchedLoader(accountReader.getAccounts, dataloader.WithWait[int, *models.Account](time.Millisecond)),
	}
}

func LoaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := NewLoaders(config.GetDB())
		ctx := context.WithValue(c.Request.Context(), loadersKey, loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func For(ctx context.Context) *Loaders {
	return ctx.Value(loadersKey).(*Loaders)
}

func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

func generateLoaderResults[T any](results []T, ids []int, idOf func(*T) int) []*dataloader.Result[*T] {
	resultMap := make(map[int]*T, len(results))
	for i := range results {
		resultMap[idOf(&results[i])] = &results[i]
	}

	loaderResults := make([]*dataloader.Result[*T], 0, len(ids))
	for _, id := range ids {
		if v, ok := resultMap[id]; ok {
			loaderResults = append(loaderResults, &dataloader.Result[*T]{Data: v})
		} else {
			loaderResults = append(loaderResults, &dataloader.Result[*T]{Error: gorm.ErrRecordNotFound})
		}
	}
	return loaderResults
}

func GetUser(ctx context.Context, id int) (*models.User, error) {
	return For(ctx).UserLoader.Load(ctx, id)()
}

func GetReceipt(ctx context.Context, id int) (*models.Receipt, error) {
	return For(ctx).ReceiptLoader.Load(ctx, id)()
}

func GetAccount(ctx context.Context, id int) (*models.Account, error) {
	return For(ctx).AccountLoader.Load(ctx, id)()
}
