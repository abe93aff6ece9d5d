package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/productmarket/internal/custody"
	"github.com/iurnickita/productmarket/internal/model"
	"github.com/iurnickita/productmarket/internal/store/config"
)

type Store interface {
	// Atomic - единица работы: при ошибке fn или неизрасходованном эскроу ничего не сохраняется
	Atomic(ctx context.Context, fn func(tx Tx) error) error
	AuthRegister(ctx context.Context, login string, passwordHash string) (string, error)
	AuthLogin(ctx context.Context, login string) (userCode string, passwordHash string, err error)
	AuthDelete(ctx context.Context, login string) error
	Close() error
}

type Tx interface {
	Custody() custody.Custody

	SellerGet(ctx context.Context, account string) (model.SellerCredential, error)
	SellerPost(ctx context.Context, credential model.SellerCredential) error
	SellerNextBadgeID(ctx context.Context) (uint64, error)

	ListingNextID(ctx context.Context) (uint64, error)
	ListingPost(ctx context.Context, listing model.Listing) error
	ListingGet(ctx context.Context, id uint64) (model.Listing, error)
	ListingDelete(ctx context.Context, id uint64) error
	ListingPage(ctx context.Context, offset int, limit int) ([]model.Listing, error)

	OrderPost(ctx context.Context, order model.Order) error
	OrderPut(ctx context.Context, order model.Order) error
	OrderGet(ctx context.Context, listingID uint64) (model.Order, error)
	OrderGetByAccount(ctx context.Context, account string) ([]model.Order, error)

	ProceedsGet(ctx context.Context, seller string) (decimal.Decimal, error)
	ProceedsPut(ctx context.Context, seller string, amount decimal.Decimal) error
	ProceedsAll(ctx context.Context) (map[string]decimal.Decimal, error)
	OperatorFeesGet(ctx context.Context) (decimal.Decimal, error)
	OperatorFeesPut(ctx context.Context, amount decimal.Decimal) error
}

var (
	ErrNoRows        = errors.New("no rows")
	ErrAlreadyExists = errors.New("already exists")
)

// NewStore - PostgreSQL, если задан DSN, иначе хранение в памяти
func NewStore(cfg config.Config) (Store, error) {
	if cfg.DBDsn == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(cfg)
}
