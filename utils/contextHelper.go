package utils

import (
	"context"

	"github.com/tabshare/tabshare_backend/appctx"
)

var (
	ContextKeyToken         = appctx.ContextKeyToken
	ContextKeyUsername      = appctx.ContextKeyUsername
	ContextKeyAccountId     = appctx.ContextKeyAccountId
	ContextKeyAccountName   = appctx.ContextKeyAccountName
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
)

func GetTokenFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyToken)
}

func GetUsernameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUsername)
}

func GetAccountIdFromContext(ctx context.Context) (int, bool) {
	return appctx.GetInt(ctx, ContextKeyAccountId)
}

func GetAccountNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyAccountName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return appctx.Set(ctx, ContextKeyUsername, username)
}

func SetAccountIdInContext(ctx context.Context, accountId int) context.Context {
	return appctx.Set(ctx, ContextKeyAccountId, accountId)
}

func SetAccountNameInContext(ctx context.Context, name string) context.Context {
	return appctx.Set(ctx, ContextKeyAccountName, name)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}
