package registry

import (
	"context"
	"errors"
	"time"

	"github.com/iurnickita/productmarket/internal/custody"
	"github.com/iurnickita/productmarket/internal/model"
	"github.com/iurnickita/productmarket/internal/store"
)

var (
	ErrAlreadyRegistered = errors.New("seller is already registered")
	ErrNotRegistered     = errors.New("seller is not registered")
)

// Registry - реестр продавцов. Право продавать дает значок в хранилище, таблица только индекс
type Registry interface {
	Register(ctx context.Context, account string, at time.Time) (model.SellerCredential, error)
	Require(ctx context.Context, account string) (model.SellerCredential, error)
}

type registry struct {
	tx store.Tx
}

func NewRegistry(tx store.Tx) Registry {
	return &registry{tx: tx}
}

func (registry *registry) Register(ctx context.Context, account string, at time.Time) (model.SellerCredential, error) {
	_, err := registry.tx.SellerGet(ctx, account)
	switch err {
	case nil:
		return model.SellerCredential{}, ErrAlreadyRegistered
	case store.ErrNoRows:
	default:
		return model.SellerCredential{}, err
	}

	badgeID, err := registry.tx.SellerNextBadgeID(ctx)
	if err != nil {
		return model.SellerCredential{}, err
	}
	err = registry.tx.Custody().Mint(ctx, account, custody.ResourceSellerBadge, badgeID, account)
	if err != nil {
		return model.SellerCredential{}, err
	}

	credential := model.SellerCredential{
		Account:      account,
		BadgeID:      badgeID,
		RegisteredAt: at,
	}
	err = registry.tx.SellerPost(ctx, credential)
	if err != nil {
		if err == store.ErrAlreadyExists {
			return model.SellerCredential{}, ErrAlreadyRegistered
		}
		return model.SellerCredential{}, err
	}
	return credential, nil
}

func (registry *registry) Require(ctx context.Context, account string) (model.SellerCredential, error) {
	credential, err := registry.tx.SellerGet(ctx, account)
	if err != nil {
		if err == store.ErrNoRows {
			return model.SellerCredential{}, ErrNotRegistered
		}
		return model.SellerCredential{}, err
	}

	err = registry.tx.Custody().RequireProof(ctx, account, custody.ResourceSellerBadge, credential.BadgeID)
	if err != nil {
		if errors.Is(err, custody.ErrMissingProof) {
			return model.SellerCredential{}, ErrNotRegistered
		}
		return model.SellerCredential{}, err
	}
	return credential, nil
}
