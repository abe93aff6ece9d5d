package custody

import (
	"context"
	"slices"

	"github.com/shopspring/decimal"
)

// MemoryLedger не потокобезопасен, единицы работы сериализует вызывающий
type MemoryLedger struct {
	balances map[balanceKey]decimal.Decimal
	items    map[itemKey]item
}

type balanceKey struct {
	account string
	kind    string
}

type itemKey struct {
	resource string
	id       uint64
}

type item struct {
	holder  string
	payload string
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[balanceKey]decimal.Decimal),
		items:    make(map[itemKey]item),
	}
}

// Begin: обратная операция каждого изменения передается в record для отката
func (l *MemoryLedger) Begin(record func(undo func())) *MemoryTx {
	return &MemoryTx{ledger: l, record: record, tracker: &tracker{}}
}

type MemoryTx struct {
	ledger  *MemoryLedger
	record  func(undo func())
	tracker *tracker
}

func (tx *MemoryTx) Settle() error {
	return tx.tracker.settle()
}

func (tx *MemoryTx) setBalance(key balanceKey, amount decimal.Decimal) {
	prev, ok := tx.ledger.balances[key]
	tx.ledger.balances[key] = amount
	tx.record(func() {
		if ok {
			tx.ledger.balances[key] = prev
		} else {
			delete(tx.ledger.balances, key)
		}
	})
}

func (tx *MemoryTx) Fund(_ context.Context, account string, kind string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	key := balanceKey{account, kind}
	tx.setBalance(key, tx.ledger.balances[key].Add(amount))
	return nil
}

func (tx *MemoryTx) Balance(_ context.Context, account string, kind string) (decimal.Decimal, error) {
	return tx.ledger.balances[balanceKey{account, kind}], nil
}

func (tx *MemoryTx) Withdraw(_ context.Context, account string, kind string, amount decimal.Decimal) (*Escrowed, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	key := balanceKey{account, kind}
	current := tx.ledger.balances[key]
	if current.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}
	tx.setBalance(key, current.Sub(amount))
	return tx.tracker.issue(kind, amount), nil
}

func (tx *MemoryTx) Deposit(_ context.Context, account string, e *Escrowed) error {
	if err := tx.tracker.consume(e); err != nil {
		return err
	}
	key := balanceKey{account, e.kind}
	tx.setBalance(key, tx.ledger.balances[key].Add(e.amount))
	return nil
}

func (tx *MemoryTx) Mint(_ context.Context, recipient string, resource string, id uint64, payload string) error {
	key := itemKey{resource, id}
	if _, ok := tx.ledger.items[key]; ok {
		return ErrDuplicateNonFungible
	}
	tx.ledger.items[key] = item{holder: recipient, payload: payload}
	tx.record(func() { delete(tx.ledger.items, key) })
	return nil
}

func (tx *MemoryTx) Burn(_ context.Context, holder string, resource string, id uint64) error {
	key := itemKey{resource, id}
	it, ok := tx.ledger.items[key]
	if !ok || it.holder != holder {
		return ErrMissingProof
	}
	delete(tx.ledger.items, key)
	tx.record(func() { tx.ledger.items[key] = it })
	return nil
}

func (tx *MemoryTx) RequireProof(_ context.Context, caller string, resource string, id uint64) error {
	it, ok := tx.ledger.items[itemKey{resource, id}]
	if !ok || it.holder != caller {
		return ErrMissingProof
	}
	return nil
}

func (tx *MemoryTx) RequireAnyProof(ctx context.Context, caller string, resource string) (uint64, error) {
	ids, err := tx.Holdings(ctx, caller, resource)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, ErrMissingProof
	}
	return ids[0], nil
}

func (tx *MemoryTx) Holdings(_ context.Context, account string, resource string) ([]uint64, error) {
	var ids []uint64
	for key, it := range tx.ledger.items {
		if key.resource == resource && it.holder == account {
			ids = append(ids, key.id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}
