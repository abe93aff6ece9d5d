package fees

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/productmarket/internal/custody"
	"github.com/iurnickita/productmarket/internal/model"
	"github.com/iurnickita/productmarket/internal/store"
)

// Fees ведет два пула: выручку продавцов и комиссии оператора.
// Сами деньги лежат в хранилищах площадки
type Fees interface {
	ChargeListingFee(ctx context.Context, seller string, fee decimal.Decimal) error
	// комиссия buyFee уходит оператору, остаток платежа в эскроу
	CapturePayment(ctx context.Context, buyer string, payment decimal.Decimal, buyFee decimal.Decimal) (decimal.Decimal, error)
	ReleaseEscrow(ctx context.Context, seller string, amount decimal.Decimal) error
	CollectSeller(ctx context.Context, seller string) (decimal.Decimal, error)
	CollectOperator(ctx context.Context, operator string) (decimal.Decimal, error)
	Pool(ctx context.Context) (model.FeePool, error)
}

type fees struct {
	tx       store.Tx
	currency string
}

func NewFees(tx store.Tx, currency string) Fees {
	return &fees{tx: tx, currency: currency}
}

func (fees *fees) accrueOperator(ctx context.Context, amount decimal.Decimal) error {
	operator, err := fees.tx.OperatorFeesGet(ctx)
	if err != nil {
		return err
	}
	return fees.tx.OperatorFeesPut(ctx, operator.Add(amount))
}

func (fees *fees) ChargeListingFee(ctx context.Context, seller string, fee decimal.Decimal) error {
	c := fees.tx.Custody()
	escrowed, err := c.Withdraw(ctx, seller, fees.currency, fee)
	if err != nil {
		return err
	}
	err = c.Deposit(ctx, custody.VaultFees, escrowed)
	if err != nil {
		return err
	}
	return fees.accrueOperator(ctx, fee)
}

func (fees *fees) CapturePayment(ctx context.Context, buyer string, payment decimal.Decimal, buyFee decimal.Decimal) (decimal.Decimal, error) {
	c := fees.tx.Custody()
	escrowed, err := c.Withdraw(ctx, buyer, fees.currency, payment)
	if err != nil {
		return decimal.Zero, err
	}
	fee, err := escrowed.Take(buyFee)
	if err != nil {
		return decimal.Zero, err
	}
	err = c.Deposit(ctx, custody.VaultFees, fee)
	if err != nil {
		return decimal.Zero, err
	}
	err = fees.accrueOperator(ctx, buyFee)
	if err != nil {
		return decimal.Zero, err
	}

	held := escrowed.Amount()
	err = c.Deposit(ctx, custody.VaultEscrow, escrowed)
	if err != nil {
		return decimal.Zero, err
	}
	return held, nil
}

func (fees *fees) ReleaseEscrow(ctx context.Context, seller string, amount decimal.Decimal) error {
	c := fees.tx.Custody()
	escrowed, err := c.Withdraw(ctx, custody.VaultEscrow, fees.currency, amount)
	if err != nil {
		return err
	}
	err = c.Deposit(ctx, custody.VaultProceeds, escrowed)
	if err != nil {
		return err
	}

	pending, err := fees.tx.ProceedsGet(ctx, seller)
	if err != nil {
		return err
	}
	return fees.tx.ProceedsPut(ctx, seller, pending.Add(amount))
}

func (fees *fees) CollectSeller(ctx context.Context, seller string) (decimal.Decimal, error) {
	pending, err := fees.tx.ProceedsGet(ctx, seller)
	if err != nil {
		return decimal.Zero, err
	}
	if pending.IsZero() {
		return decimal.Zero, nil
	}

	err = fees.payout(ctx, custody.VaultProceeds, seller, pending)
	if err != nil {
		return decimal.Zero, err
	}
	err = fees.tx.ProceedsPut(ctx, seller, decimal.Zero)
	if err != nil {
		return decimal.Zero, err
	}
	return pending, nil
}

func (fees *fees) CollectOperator(ctx context.Context, operator string) (decimal.Decimal, error) {
	pending, err := fees.tx.OperatorFeesGet(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if pending.IsZero() {
		return decimal.Zero, nil
	}

	err = fees.payout(ctx, custody.VaultFees, operator, pending)
	if err != nil {
		return decimal.Zero, err
	}
	err = fees.tx.OperatorFeesPut(ctx, decimal.Zero)
	if err != nil {
		return decimal.Zero, err
	}
	return pending, nil
}

func (fees *fees) payout(ctx context.Context, vault string, account string, amount decimal.Decimal) error {
	c := fees.tx.Custody()
	escrowed, err := c.Withdraw(ctx, vault, fees.currency, amount)
	if err != nil {
		return err
	}
	return c.Deposit(ctx, account, escrowed)
}

func (fees *fees) Pool(ctx context.Context) (model.FeePool, error) {
	perSeller, err := fees.tx.ProceedsAll(ctx)
	if err != nil {
		return model.FeePool{}, err
	}
	operator, err := fees.tx.OperatorFeesGet(ctx)
	if err != nil {
		return model.FeePool{}, err
	}
	return model.FeePool{PerSeller: perSeller, Operator: operator}, nil
}
