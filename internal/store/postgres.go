package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/iurnickita/productmarket/internal/custody"
	"github.com/iurnickita/productmarket/internal/model"
	"github.com/iurnickita/productmarket/internal/store/config"
)

// Ключ advisory-блокировки: одна операция площадки за раз
const marketLockKey = 7_340_001

type postgresStore struct {
	database *sql.DB
}

func NewPostgresStore(cfg config.Config) (Store, error) {
	db, err := sql.Open("pgx", cfg.DBDsn)
	if err != nil {
		return nil, err
	}
	ctx := context.Background()

	// Таблица учетных записей
	_, err = db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS auth ("+
			" login VARCHAR (64) PRIMARY KEY,"+
			" uuid SERIAL UNIQUE,"+
			" password VARCHAR (72) NOT NULL"+
			" );")
	if err != nil {
		return nil, err
	}

	// Продавцы. Запись создается один раз и не удаляется
	_, err = db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS seller ("+
			" account VARCHAR (64) PRIMARY KEY,"+
			" badge_id BIGINT NOT NULL,"+
			" registered_at TIMESTAMP NOT NULL"+
			" );")
	if err != nil {
		return nil, err
	}

	// Каталог: только доступные к покупке товары
	_, err = db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS listing ("+
			" id BIGINT PRIMARY KEY,"+
			" seller VARCHAR (64) NOT NULL,"+
			" name TEXT NOT NULL,"+
			" price NUMERIC NOT NULL,"+
			" currency VARCHAR (16) NOT NULL,"+
			" listed_at TIMESTAMP NOT NULL"+
			" );")
	if err != nil {
		return nil, err
	}

	// Заказы. Одна строка на купленный товар, меняется только статус
	_, err = db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS purchase_order ("+
			" listing_id BIGINT PRIMARY KEY,"+
			" seller VARCHAR (64) NOT NULL,"+
			" buyer VARCHAR (64) NOT NULL,"+
			" name TEXT NOT NULL,"+
			" price NUMERIC NOT NULL,"+
			" buy_fee NUMERIC NOT NULL,"+
			" escrow NUMERIC NOT NULL,"+
			" currency VARCHAR (16) NOT NULL,"+
			" city TEXT NOT NULL,"+
			" street TEXT NOT NULL,"+
			" zip VARCHAR (16) NOT NULL,"+
			" status VARCHAR (16) NOT NULL,"+
			" postal_stamp VARCHAR (32) NOT NULL,"+
			" seller_ticket_id BIGINT NOT NULL,"+
			" buyer_ticket_id BIGINT NOT NULL,"+
			" purchased_at TIMESTAMP NOT NULL,"+
			" updated_at TIMESTAMP NOT NULL"+
			" );")
	if err != nil {
		return nil, err
	}

	// Выручка продавцов к выплате
	_, err = db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS seller_proceeds ("+
			" account VARCHAR (64) PRIMARY KEY,"+
			" amount NUMERIC NOT NULL"+
			" );")
	if err != nil {
		return nil, err
	}

	// Комиссии оператора, одна строка
	_, err = db.ExecContext(ctx,
		"CREATE TABLE IF NOT EXISTS operator_fees ("+
			" id INTEGER PRIMARY KEY,"+
			" amount NUMERIC NOT NULL"+
			" );")
	if err != nil {
		return nil, err
	}

	for _, seq := range []string{"listing_id_seq", "seller_badge_seq"} {
		_, err = db.ExecContext(ctx, "CREATE SEQUENCE IF NOT EXISTS "+seq)
		if err != nil {
			return nil, err
		}
	}

	err = custody.Migrate(ctx, db)
	if err != nil {
		return nil, err
	}

	return &postgresStore{
		database: db,
	}, nil
}

func (store *postgresStore) Atomic(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := store.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer sqlTx.Rollback()

	_, err = sqlTx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", marketLockKey)
	if err != nil {
		return err
	}

	tx := &postgresTx{tx: sqlTx, custody: custody.NewSQLTx(sqlTx)}
	err = fn(tx)
	if err != nil {
		return err
	}
	err = tx.custody.Settle()
	if err != nil {
		return err
	}
	return sqlTx.Commit()
}

func (store *postgresStore) AuthRegister(ctx context.Context, login string, passwordHash string) (string, error) {
	// Запись нового пользователя
	row := store.database.QueryRowContext(ctx,
		"INSERT INTO auth (login, password)"+
			" VALUES ($1, $2)"+
			" RETURNING uuid",
		login,
		passwordHash)

	// Получение ID пользователя
	var uuid int
	err := row.Scan(&uuid)
	if err != nil {
		// Проверка: уже существует
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23505" {
				return "", ErrAlreadyExists
			}
		}
		return "", err
	}

	return strconv.Itoa(uuid), nil
}

func (store *postgresStore) AuthLogin(ctx context.Context, login string) (string, string, error) {
	row := store.database.QueryRowContext(ctx,
		"SELECT uuid, password FROM auth"+
			" WHERE login = $1",
		login)
	var uuid int
	var passwordHash string
	err := row.Scan(&uuid, &passwordHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", "", ErrNoRows
		}
		return "", "", err
	}

	return strconv.Itoa(uuid), passwordHash, nil
}

func (store *postgresStore) AuthDelete(ctx context.Context, login string) error {
	_, err := store.database.ExecContext(ctx,
		"DELETE FROM auth WHERE login = $1",
		login)
	return err
}

func (store *postgresStore) Close() error {
	return store.database.Close()
}

type postgresTx struct {
	tx      *sql.Tx
	custody *custody.SQLTx
}

func (tx *postgresTx) Custody() custody.Custody {
	return tx.custody
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (tx *postgresTx) nextval(ctx context.Context, seq string) (uint64, error) {
	row := tx.tx.QueryRowContext(ctx, "SELECT nextval('"+seq+"')")
	var id int64
	err := row.Scan(&id)
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

func (tx *postgresTx) SellerGet(ctx context.Context, account string) (model.SellerCredential, error) {
	row := tx.tx.QueryRowContext(ctx,
		"SELECT account, badge_id, registered_at FROM seller"+
			" WHERE account = $1",
		account)
	var credential model.SellerCredential
	var badgeID int64
	err := row.Scan(&credential.Account, &badgeID, &credential.RegisteredAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.SellerCredential{}, ErrNoRows
		}
		return model.SellerCredential{}, err
	}
	credential.BadgeID = uint64(badgeID)
	return credential, nil
}

func (tx *postgresTx) SellerPost(ctx context.Context, credential model.SellerCredential) error {
	_, err := tx.tx.ExecContext(ctx,
		"INSERT INTO seller (account, badge_id, registered_at)"+
			" VALUES ($1, $2, $3)",
		credential.Account,
		int64(credential.BadgeID),
		credential.RegisteredAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (tx *postgresTx) SellerNextBadgeID(ctx context.Context) (uint64, error) {
	return tx.nextval(ctx, "seller_badge_seq")
}

func (tx *postgresTx) ListingNextID(ctx context.Context) (uint64, error) {
	return tx.nextval(ctx, "listing_id_seq")
}

func (tx *postgresTx) ListingPost(ctx context.Context, listing model.Listing) error {
	_, err := tx.tx.ExecContext(ctx,
		"INSERT INTO listing (id, seller, name, price, currency, listed_at)"+
			" VALUES ($1, $2, $3, $4, $5, $6)",
		int64(listing.ID),
		listing.Data.Seller,
		listing.Data.Name,
		listing.Data.Price,
		listing.Data.Currency,
		listing.Data.ListedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func scanListing(scan func(dest ...any) error) (model.Listing, error) {
	var listing model.Listing
	var id int64
	err := scan(&id,
		&listing.Data.Seller,
		&listing.Data.Name,
		&listing.Data.Price,
		&listing.Data.Currency,
		&listing.Data.ListedAt)
	listing.ID = uint64(id)
	return listing, err
}

func (tx *postgresTx) ListingGet(ctx context.Context, id uint64) (model.Listing, error) {
	row := tx.tx.QueryRowContext(ctx,
		"SELECT id, seller, name, price, currency, listed_at FROM listing"+
			" WHERE id = $1",
		int64(id))
	listing, err := scanListing(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Listing{}, ErrNoRows
		}
		return model.Listing{}, err
	}
	return listing, nil
}

func (tx *postgresTx) ListingDelete(ctx context.Context, id uint64) error {
	res, err := tx.tx.ExecContext(ctx,
		"DELETE FROM listing WHERE id = $1",
		int64(id))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRows
	}
	return nil
}

func (tx *postgresTx) ListingPage(ctx context.Context, offset int, limit int) ([]model.Listing, error) {
	rows, err := tx.tx.QueryContext(ctx,
		"SELECT id, seller, name, price, currency, listed_at FROM listing"+
			" ORDER BY id"+
			" LIMIT $1 OFFSET $2",
		limit,
		offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var listings []model.Listing
	for rows.Next() {
		listing, err := scanListing(rows.Scan)
		if err != nil {
			return nil, err
		}
		listings = append(listings, listing)
	}
	return listings, rows.Err()
}

const orderColumns = "listing_id, seller, buyer, name, price, buy_fee, escrow, currency," +
	" city, street, zip, status, postal_stamp, seller_ticket_id, buyer_ticket_id," +
	" purchased_at, updated_at"

func scanOrder(scan func(dest ...any) error) (model.Order, error) {
	var order model.Order
	var listingID, sellerTicketID, buyerTicketID int64
	var status string
	err := scan(&listingID,
		&order.Data.Seller,
		&order.Data.Buyer,
		&order.Data.Name,
		&order.Data.Price,
		&order.Data.BuyFee,
		&order.Data.Escrow,
		&order.Data.Currency,
		&order.Data.Address.City,
		&order.Data.Address.Street,
		&order.Data.Address.Zip,
		&status,
		&order.Data.PostalStamp,
		&sellerTicketID,
		&buyerTicketID,
		&order.Data.PurchasedAt,
		&order.Data.UpdatedAt)
	order.ListingID = uint64(listingID)
	order.Data.Status = model.OrderStatus(status)
	order.Data.SellerTicketID = uint64(sellerTicketID)
	order.Data.BuyerTicketID = uint64(buyerTicketID)
	return order, err
}

func (tx *postgresTx) OrderPost(ctx context.Context, order model.Order) error {
	_, err := tx.tx.ExecContext(ctx,
		"INSERT INTO purchase_order ("+orderColumns+")"+
			" VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)",
		int64(order.ListingID),
		order.Data.Seller,
		order.Data.Buyer,
		order.Data.Name,
		order.Data.Price,
		order.Data.BuyFee,
		order.Data.Escrow,
		order.Data.Currency,
		order.Data.Address.City,
		order.Data.Address.Street,
		order.Data.Address.Zip,
		string(order.Data.Status),
		order.Data.PostalStamp,
		int64(order.Data.SellerTicketID),
		int64(order.Data.BuyerTicketID),
		order.Data.PurchasedAt,
		order.Data.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return err
	}
	return nil
}

func (tx *postgresTx) OrderPut(ctx context.Context, order model.Order) error {
	// Обновление статуса заказа
	res, err := tx.tx.ExecContext(ctx,
		"UPDATE purchase_order"+
			" SET status = $1,"+
			"     postal_stamp = $2,"+
			"     updated_at = $3"+
			" WHERE listing_id = $4",
		string(order.Data.Status),
		order.Data.PostalStamp,
		order.Data.UpdatedAt,
		int64(order.ListingID))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRows
	}
	return nil
}

func (tx *postgresTx) OrderGet(ctx context.Context, listingID uint64) (model.Order, error) {
	row := tx.tx.QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM purchase_order"+
			" WHERE listing_id = $1",
		int64(listingID))
	order, err := scanOrder(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Order{}, ErrNoRows
		}
		return model.Order{}, err
	}
	return order, nil
}

func (tx *postgresTx) OrderGetByAccount(ctx context.Context, account string) ([]model.Order, error) {
	rows, err := tx.tx.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM purchase_order"+
			" WHERE buyer = $1"+
			"    OR seller = $1"+
			" ORDER BY listing_id",
		account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

func (tx *postgresTx) ProceedsGet(ctx context.Context, seller string) (decimal.Decimal, error) {
	row := tx.tx.QueryRowContext(ctx,
		"SELECT amount FROM seller_proceeds WHERE account = $1",
		seller)
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

func (tx *postgresTx) ProceedsPut(ctx context.Context, seller string, amount decimal.Decimal) error {
	_, err := tx.tx.ExecContext(ctx,
		"INSERT INTO seller_proceeds (account, amount)"+
			" VALUES ($1, $2)"+
			" ON CONFLICT (account) DO UPDATE SET amount = EXCLUDED.amount",
		seller,
		amount)
	return err
}

func (tx *postgresTx) ProceedsAll(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := tx.tx.QueryContext(ctx,
		"SELECT account, amount FROM seller_proceeds")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	all := make(map[string]decimal.Decimal)
	for rows.Next() {
		var account string
		var amount decimal.Decimal
		if err := rows.Scan(&account, &amount); err != nil {
			return nil, err
		}
		all[account] = amount
	}
	return all, rows.Err()
}

func (tx *postgresTx) OperatorFeesGet(ctx context.Context) (decimal.Decimal, error) {
	row := tx.tx.QueryRowContext(ctx,
		"SELECT amount FROM operator_fees WHERE id = 1")
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

func (tx *postgresTx) OperatorFeesPut(ctx context.Context, amount decimal.Decimal) error {
	_, err := tx.tx.ExecContext(ctx,
		"INSERT INTO operator_fees (id, amount)"+
			" VALUES (1, $1)"+
			" ON CONFLICT (id) DO UPDATE SET amount = EXCLUDED.amount",
		amount)
	return err
}
