package custody

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

func Migrate(ctx context.Context, db *sql.DB) error {
	// Балансы счетов, одна строка на пару счет/валюта
	_, err := db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS custody_balance ("+
			" account VARCHAR (64),"+
			" kind VARCHAR (16),"+
			" amount NUMERIC NOT NULL,"+
			" PRIMARY KEY (account, kind)"+
			" );")
	if err != nil {
		return err
	}

	// Неделимые предметы: значки и билеты
	_, err = db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS custody_item ("+
			" resource VARCHAR (32),"+
			" id BIGINT,"+
			" holder VARCHAR (64) NOT NULL,"+
			" payload TEXT NOT NULL,"+
			" PRIMARY KEY (resource, id)"+
			" );")
	return err
}

// SQLTx работает внутри открытой транзакции
type SQLTx struct {
	tx      *sql.Tx
	tracker *tracker
}

func NewSQLTx(tx *sql.Tx) *SQLTx {
	return &SQLTx{tx: tx, tracker: &tracker{}}
}

func (c *SQLTx) Settle() error {
	return c.tracker.settle()
}

func (c *SQLTx) credit(ctx context.Context, account string, kind string, amount decimal.Decimal) error {
	_, err := c.tx.ExecContext(ctx,
		"INSERT INTO custody_balance (account, kind, amount)"+
			" VALUES ($1, $2, $3)"+
			" ON CONFLICT (account, kind)"+
			" DO UPDATE SET amount = custody_balance.amount + EXCLUDED.amount",
		account,
		kind,
		amount)
	return err
}

func (c *SQLTx) Fund(ctx context.Context, account string, kind string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	return c.credit(ctx, account, kind, amount)
}

func (c *SQLTx) Balance(ctx context.Context, account string, kind string) (decimal.Decimal, error) {
	row := c.tx.QueryRowContext(ctx,
		"SELECT amount FROM custody_balance"+
			" WHERE account = $1"+
			"   AND kind = $2",
		account,
		kind)
	var amount decimal.Decimal
	err := row.Scan(&amount)
	if err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return amount, nil
}

func (c *SQLTx) Withdraw(ctx context.Context, account string, kind string, amount decimal.Decimal) (*Escrowed, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}

	// Блокировка строки баланса до конца транзакции
	row := c.tx.QueryRowContext(ctx,
		"SELECT amount FROM custody_balance"+
			" WHERE account = $1"+
			"   AND kind = $2"+
			" FOR UPDATE",
		account,
		kind)
	current := decimal.Zero
	err := row.Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if current.LessThan(amount) {
		return nil, ErrInsufficientFunds
	}

	_, err = c.tx.ExecContext(ctx,
		"UPDATE custody_balance"+
			" SET amount = amount - $1"+
			" WHERE account = $2"+
			"   AND kind = $3",
		amount,
		account,
		kind)
	if err != nil {
		return nil, err
	}
	return c.tracker.issue(kind, amount), nil
}

func (c *SQLTx) Deposit(ctx context.Context, account string, e *Escrowed) error {
	if err := c.tracker.consume(e); err != nil {
		return err
	}
	return c.credit(ctx, account, e.kind, e.amount)
}

func (c *SQLTx) Mint(ctx context.Context, recipient string, resource string, id uint64, payload string) error {
	_, err := c.tx.ExecContext(ctx,
		"INSERT INTO custody_item (resource, id, holder, payload)"+
			" VALUES ($1, $2, $3, $4)",
		resource,
		int64(id),
		recipient,
		payload)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" {
				return ErrDuplicateNonFungible
			}
		}
		return err
	}
	return nil
}

func (c *SQLTx) Burn(ctx context.Context, holder string, resource string, id uint64) error {
	res, err := c.tx.ExecContext(ctx,
		"DELETE FROM custody_item"+
			" WHERE resource = $1"+
			"   AND id = $2"+
			"   AND holder = $3",
		resource,
		int64(id),
		holder)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrMissingProof
	}
	return nil
}

func (c *SQLTx) RequireProof(ctx context.Context, caller string, resource string, id uint64) error {
	row := c.tx.QueryRowContext(ctx,
		"SELECT holder FROM custody_item"+
			" WHERE resource = $1"+
			"   AND id = $2",
		resource,
		int64(id))
	var holder string
	err := row.Scan(&holder)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrMissingProof
		}
		return err
	}
	if holder != caller {
		return ErrMissingProof
	}
	return nil
}

func (c *SQLTx) RequireAnyProof(ctx context.Context, caller string, resource string) (uint64, error) {
	row := c.tx.QueryRowContext(ctx,
		"SELECT id FROM custody_item"+
			" WHERE resource = $1"+
			"   AND holder = $2"+
			" ORDER BY id"+
			" LIMIT 1",
		resource,
		caller)
	var id int64
	err := row.Scan(&id)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrMissingProof
		}
		return 0, err
	}
	return uint64(id), nil
}

func (c *SQLTx) Holdings(ctx context.Context, account string, resource string) ([]uint64, error) {
	rows, err := c.tx.QueryContext(ctx,
		"SELECT id FROM custody_item"+
			" WHERE resource = $1"+
			"   AND holder = $2"+
			" ORDER BY id",
		resource,
		account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}
