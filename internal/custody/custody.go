package custody

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Невзаимозаменяемые ресурсы
const (
	ResourceAdminBadge   = "admin_badge"
	ResourceSellerBadge  = "seller_badge"
	ResourceSellerTicket = "seller_ticket"
	ResourceBuyerTicket  = "buyer_ticket"
)

// Счета самой площадки
const (
	VaultEscrow   = "vault:escrow"
	VaultProceeds = "vault:proceeds"
	VaultFees     = "vault:fees"
)

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidAmount        = errors.New("amount must not be negative")
	ErrMissingProof         = errors.New("missing proof")
	ErrDuplicateNonFungible = errors.New("non-fungible item already exists")
	ErrEscrowSpent          = errors.New("escrow already spent")
	ErrEscrowLeaked         = errors.New("escrow was neither deposited nor returned")
	ErrForeignEscrow        = errors.New("escrow belongs to another operation")
)

type Custody interface {
	// Fund - пополнение счета извне площадки
	Fund(ctx context.Context, account string, kind string, amount decimal.Decimal) error
	Balance(ctx context.Context, account string, kind string) (decimal.Decimal, error)
	Withdraw(ctx context.Context, account string, kind string, amount decimal.Decimal) (*Escrowed, error)
	// повторное зачисление того же эскроу - ошибка
	Deposit(ctx context.Context, account string, e *Escrowed) error
	Mint(ctx context.Context, recipient string, resource string, id uint64, payload string) error
	Burn(ctx context.Context, holder string, resource string, id uint64) error
	RequireProof(ctx context.Context, caller string, resource string, id uint64) error
	// наименьший id ресурса у caller
	RequireAnyProof(ctx context.Context, caller string, resource string) (uint64, error)
	Holdings(ctx context.Context, account string, resource string) ([]uint64, error)
}

// Escrowed - сумма, снятая со счета. До конца единицы работы должна быть зачислена ровно один раз
type Escrowed struct {
	kind    string
	amount  decimal.Decimal
	spent   bool
	tracker *tracker
}

func (e *Escrowed) Kind() string { return e.kind }

func (e *Escrowed) Amount() decimal.Decimal { return e.amount }

func (e *Escrowed) Take(amount decimal.Decimal) (*Escrowed, error) {
	if e.spent {
		return nil, ErrEscrowSpent
	}
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	if e.amount.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}
	e.amount = e.amount.Sub(amount)
	return e.tracker.issue(e.kind, amount), nil
}

type tracker struct {
	issued []*Escrowed
}

func (t *tracker) issue(kind string, amount decimal.Decimal) *Escrowed {
	e := &Escrowed{kind: kind, amount: amount, tracker: t}
	t.issued = append(t.issued, e)
	return e
}

func (t *tracker) consume(e *Escrowed) error {
	if e == nil || e.tracker != t {
		return ErrForeignEscrow
	}
	if e.spent {
		return ErrEscrowSpent
	}
	e.spent = true
	return nil
}

func (t *tracker) settle() error {
	for _, e := range t.issued {
		if !e.spent && !e.amount.IsZero() {
			return ErrEscrowLeaked
		}
	}
	return nil
}
