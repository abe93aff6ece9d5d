package store

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/productmarket/internal/custody"
	"github.com/iurnickita/productmarket/internal/model"
)

type memoryUser struct {
	code         string
	passwordHash string
}

type memoryStore struct {
	mu     sync.Mutex
	ledger *custody.MemoryLedger

	sellers    map[string]model.SellerCredential
	badgeSeq   uint64
	listings   map[uint64]model.Listing
	listingIDs []uint64 // по возрастанию
	listingSeq uint64
	orders     map[uint64]model.Order
	proceeds   map[string]decimal.Decimal
	operator   decimal.Decimal

	authMutex sync.Mutex
	users     map[string]memoryUser
	userSeq   int
}

func NewMemoryStore() Store {
	return &memoryStore{
		ledger:   custody.NewMemoryLedger(),
		sellers:  make(map[string]model.SellerCredential),
		listings: make(map[uint64]model.Listing),
		orders:   make(map[uint64]model.Order),
		proceeds: make(map[string]decimal.Decimal),
		users:    make(map[string]memoryUser),
	}
}

func (store *memoryStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memoryTx{store: store}
	tx.custody = store.ledger.Begin(tx.record)

	err := fn(tx)
	if err == nil {
		err = tx.custody.Settle()
	}
	if err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (store *memoryStore) AuthRegister(_ context.Context, login string, passwordHash string) (string, error) {
	store.authMutex.Lock()
	defer store.authMutex.Unlock()

	if _, ok := store.users[login]; ok {
		return "", ErrAlreadyExists
	}
	store.userSeq++
	code := strconv.Itoa(store.userSeq)
	store.users[login] = memoryUser{code: code, passwordHash: passwordHash}
	return code, nil
}

func (store *memoryStore) AuthLogin(_ context.Context, login string) (string, string, error) {
	store.authMutex.Lock()
	defer store.authMutex.Unlock()

	user, ok := store.users[login]
	if !ok {
		return "", "", ErrNoRows
	}
	return user.code, user.passwordHash, nil
}

func (store *memoryStore) AuthDelete(_ context.Context, login string) error {
	store.authMutex.Lock()
	defer store.authMutex.Unlock()

	delete(store.users, login)
	return nil
}

func (store *memoryStore) Close() error {
	return nil
}

// memoryTx записывает обратную операцию для каждого изменения,
// откат выполняет их в обратном порядке
type memoryTx struct {
	store   *memoryStore
	custody *custody.MemoryTx
	undo    []func()
}

func (tx *memoryTx) record(f func()) {
	tx.undo = append(tx.undo, f)
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) Custody() custody.Custody {
	return tx.custody
}

func (tx *memoryTx) SellerGet(_ context.Context, account string) (model.SellerCredential, error) {
	credential, ok := tx.store.sellers[account]
	if !ok {
		return model.SellerCredential{}, ErrNoRows
	}
	return credential, nil
}

func (tx *memoryTx) SellerPost(_ context.Context, credential model.SellerCredential) error {
	if _, ok := tx.store.sellers[credential.Account]; ok {
		return ErrAlreadyExists
	}
	tx.store.sellers[credential.Account] = credential
	tx.record(func() { delete(tx.store.sellers, credential.Account) })
	return nil
}

// Счетчики не откатываются, как и последовательности в PostgreSQL
func (tx *memoryTx) SellerNextBadgeID(_ context.Context) (uint64, error) {
	tx.store.badgeSeq++
	return tx.store.badgeSeq, nil
}

func (tx *memoryTx) ListingNextID(_ context.Context) (uint64, error) {
	tx.store.listingSeq++
	return tx.store.listingSeq, nil
}

func (tx *memoryTx) ListingPost(_ context.Context, listing model.Listing) error {
	if _, ok := tx.store.listings[listing.ID]; ok {
		return ErrAlreadyExists
	}
	prevIDs := slices.Clone(tx.store.listingIDs)
	pos, _ := slices.BinarySearch(tx.store.listingIDs, listing.ID)
	tx.store.listingIDs = slices.Insert(tx.store.listingIDs, pos, listing.ID)
	tx.store.listings[listing.ID] = listing
	tx.record(func() {
		delete(tx.store.listings, listing.ID)
		tx.store.listingIDs = prevIDs
	})
	return nil
}

func (tx *memoryTx) ListingGet(_ context.Context, id uint64) (model.Listing, error) {
	listing, ok := tx.store.listings[id]
	if !ok {
		return model.Listing{}, ErrNoRows
	}
	return listing, nil
}

func (tx *memoryTx) ListingDelete(_ context.Context, id uint64) error {
	listing, ok := tx.store.listings[id]
	if !ok {
		return ErrNoRows
	}
	prevIDs := slices.Clone(tx.store.listingIDs)
	pos, found := slices.BinarySearch(tx.store.listingIDs, id)
	if found {
		tx.store.listingIDs = slices.Delete(tx.store.listingIDs, pos, pos+1)
	}
	delete(tx.store.listings, id)
	tx.record(func() {
		tx.store.listings[id] = listing
		tx.store.listingIDs = prevIDs
	})
	return nil
}

func (tx *memoryTx) ListingPage(_ context.Context, offset int, limit int) ([]model.Listing, error) {
	ids := tx.store.listingIDs
	if offset < 0 || offset >= len(ids) || limit <= 0 {
		return nil, nil
	}
	end := min(offset+limit, len(ids))
	page := make([]model.Listing, 0, end-offset)
	for _, id := range ids[offset:end] {
		page = append(page, tx.store.listings[id])
	}
	return page, nil
}

func (tx *memoryTx) OrderPost(_ context.Context, order model.Order) error {
	if _, ok := tx.store.orders[order.ListingID]; ok {
		return ErrAlreadyExists
	}
	tx.store.orders[order.ListingID] = order
	tx.record(func() { delete(tx.store.orders, order.ListingID) })
	return nil
}

func (tx *memoryTx) OrderPut(_ context.Context, order model.Order) error {
	prev, ok := tx.store.orders[order.ListingID]
	if !ok {
		return ErrNoRows
	}
	tx.store.orders[order.ListingID] = order
	tx.record(func() { tx.store.orders[order.ListingID] = prev })
	return nil
}

func (tx *memoryTx) OrderGet(_ context.Context, listingID uint64) (model.Order, error) {
	order, ok := tx.store.orders[listingID]
	if !ok {
		return model.Order{}, ErrNoRows
	}
	return order, nil
}

func (tx *memoryTx) OrderGetByAccount(_ context.Context, account string) ([]model.Order, error) {
	var orders []model.Order
	for _, order := range tx.store.orders {
		if order.Data.Buyer == account || order.Data.Seller == account {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].ListingID < orders[j].ListingID
	})
	return orders, nil
}

func (tx *memoryTx) ProceedsGet(_ context.Context, seller string) (decimal.Decimal, error) {
	return tx.store.proceeds[seller], nil
}

func (tx *memoryTx) ProceedsPut(_ context.Context, seller string, amount decimal.Decimal) error {
	prev, ok := tx.store.proceeds[seller]
	tx.store.proceeds[seller] = amount
	tx.record(func() {
		if ok {
			tx.store.proceeds[seller] = prev
		} else {
			delete(tx.store.proceeds, seller)
		}
	})
	return nil
}

func (tx *memoryTx) ProceedsAll(_ context.Context) (map[string]decimal.Decimal, error) {
	all := make(map[string]decimal.Decimal, len(tx.store.proceeds))
	for seller, amount := range tx.store.proceeds {
		all[seller] = amount
	}
	return all, nil
}

func (tx *memoryTx) OperatorFeesGet(_ context.Context) (decimal.Decimal, error) {
	return tx.store.operator, nil
}

func (tx *memoryTx) OperatorFeesPut(_ context.Context, amount decimal.Decimal) error {
	prev := tx.store.operator
	tx.store.operator = amount
	tx.record(func() { tx.store.operator = prev })
	return nil
}
