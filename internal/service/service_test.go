package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/productmarket/internal/custody"
	"github.com/iurnickita/productmarket/internal/model"
	"github.com/iurnickita/productmarket/internal/service/config"
	"github.com/iurnickita/productmarket/internal/store"
)

const (
	testCurrency = "XRD"
	testOperator = "operator"
)

var testAddress = model.ShippingAddress{City: "Abidjan", Street: "1 rue de yopougon siporex", Zip: "1196"}

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func newTestService(t *testing.T) (Service, store.Store) {
	t.Helper()
	st := store.NewMemoryStore()
	svc, err := NewService(config.Config{
		Currency:      testCurrency,
		SellFee:       d(1),
		BuyFee:        d(1),
		InitialGrant:  d(1_000_000),
		OperatorLogin: testOperator,
	}, st, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, svc.InitOperator(context.Background(), testOperator))
	return svc, st
}

func openAccounts(t *testing.T, svc Service, accounts ...string) {
	t.Helper()
	for _, account := range accounts {
		require.NoError(t, svc.OpenAccount(context.Background(), account))
	}
}

func requireBalance(t *testing.T, svc Service, account string, want decimal.Decimal) {
	t.Helper()
	balance, err := svc.GetBalance(context.Background(), account)
	require.NoError(t, err)
	require.True(t, want.Equal(balance), "balance of %s: want %s, got %s", account, want, balance)
}

// pageRecords разбирает страницу каталога на записи
func pageRecords(page string) []string {
	body := strings.TrimPrefix(page, "products : ")
	if body == "" {
		return nil
	}
	return strings.Split(body, ";")
}

// newSeller регистрирует продавца и выставляет один товар
func newSeller(t *testing.T, svc Service, seller string, price int64) model.Listing {
	t.Helper()
	ctx := context.Background()
	openAccounts(t, svc, seller)
	_, err := svc.RegisterAsSeller(ctx, seller)
	require.NoError(t, err)
	listing, err := svc.ListProduct(ctx, seller, "iphone 12", d(price), d(1))
	require.NoError(t, err)
	return listing
}

func requireStatus(t *testing.T, svc Service, account string, listingID uint64, want model.OrderStatus) {
	t.Helper()
	accountOrders, err := svc.GetOrders(context.Background(), account)
	require.NoError(t, err)
	for _, order := range accountOrders {
		if order.ListingID == listingID {
			require.Equal(t, want, order.Data.Status)
			return
		}
	}
	t.Fatalf("order %d not found for %s", listingID, account)
}

// requireVaults сверяет хранилища площадки с учетом комиссий и эскроу
func requireVaults(t *testing.T, svc Service, st store.Store) {
	t.Helper()
	ctx := context.Background()
	pool, err := svc.GetFeePool(ctx, testOperator)
	require.NoError(t, err)

	require.NoError(t, st.Atomic(ctx, func(tx store.Tx) error {
		c := tx.Custody()
		feesVault, err := c.Balance(ctx, custody.VaultFees, testCurrency)
		require.NoError(t, err)
		require.True(t, pool.Operator.Equal(feesVault))

		perSeller := decimal.Zero
		for _, amount := range pool.PerSeller {
			perSeller = perSeller.Add(amount)
		}
		proceedsVault, err := c.Balance(ctx, custody.VaultProceeds, testCurrency)
		require.NoError(t, err)
		require.True(t, perSeller.Equal(proceedsVault))
		return nil
	}))
}

func TestRegisterAsSeller(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	credential, err := svc.RegisterAsSeller(ctx, "seller")
	require.NoError(t, err)
	require.Equal(t, "seller", credential.Account)

	_, err = svc.RegisterAsSeller(ctx, "seller")
	require.ErrorIs(t, err, ErrAlreadyRegistered)

	_, err = svc.RegisterAsSeller(ctx, "")
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestListProduct(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	openAccounts(t, svc, "seller", "stranger")

	t.Run("not registered", func(t *testing.T) {
		_, err := svc.ListProduct(ctx, "stranger", "lamp", d(10), d(1))
		require.ErrorIs(t, err, ErrNotRegistered)
		requireBalance(t, svc, "stranger", d(1_000_000))
	})

	_, err := svc.RegisterAsSeller(ctx, "seller")
	require.NoError(t, err)

	t.Run("fee below minimum", func(t *testing.T) {
		_, err := svc.ListProduct(ctx, "seller", "lamp", d(10), decimal.RequireFromString("0.5"))
		require.ErrorIs(t, err, ErrInsufficientListingFee)
		require.EqualError(t, err, "insufficient listing fee: the fees must be >= 1")
		requireBalance(t, svc, "seller", d(1_000_000))

		pool, err := svc.GetFeePool(ctx, testOperator)
		require.NoError(t, err)
		require.True(t, pool.Operator.IsZero())
	})

	t.Run("invalid price", func(t *testing.T) {
		_, err := svc.ListProduct(ctx, "seller", "lamp", d(0), d(1))
		require.ErrorIs(t, err, ErrInvalidPrice)
		requireBalance(t, svc, "seller", d(1_000_000))
	})

	t.Run("separator in name", func(t *testing.T) {
		for _, name := range []string{"red; blue | green", "x|y", "model: a"} {
			_, err := svc.ListProduct(ctx, "seller", name, d(10), d(1))
			require.ErrorIs(t, err, ErrInsufficientData, name)
		}
		requireBalance(t, svc, "seller", d(1_000_000))

		page, err := svc.GetAvailableProducts(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, "products : ", page)
	})

	t.Run("balance decreases by fee", func(t *testing.T) {
		listing, err := svc.ListProduct(ctx, "seller", "lamp", d(500), d(3))
		require.NoError(t, err)
		require.Equal(t, "seller", listing.Data.Seller)
		requireBalance(t, svc, "seller", d(1_000_000-3))

		next, err := svc.ListProduct(ctx, "seller", "chair", d(500), d(1))
		require.NoError(t, err)
		require.Greater(t, next.ID, listing.ID)
		requireBalance(t, svc, "seller", d(1_000_000-4))
	})

	t.Run("insufficient funds", func(t *testing.T) {
		_, err := svc.RegisterAsSeller(ctx, "poor")
		require.NoError(t, err)
		_, err = svc.ListProduct(ctx, "poor", "lamp", d(10), d(1))
		require.ErrorIs(t, err, ErrInsufficientFunds)

		page, err := svc.GetAvailableProducts(ctx, 0)
		require.NoError(t, err)
		require.Len(t, pageRecords(page), 2)
	})
}

func TestGetAvailableProducts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	page, err := svc.GetAvailableProducts(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, "products : ", page)

	openAccounts(t, svc, "seller")
	_, err = svc.RegisterAsSeller(ctx, "seller")
	require.NoError(t, err)

	const total = 201
	var ids []string
	for i := 0; i < total; i++ {
		listing, err := svc.ListProduct(ctx, "seller", "item"+strconv.Itoa(i), d(int64(i+1)), d(1))
		require.NoError(t, err)
		ids = append(ids, strconv.FormatUint(listing.ID, 10))
	}

	var all []string
	for k := 0; k < 4; k++ {
		page, err := svc.GetAvailableProducts(ctx, uint32(k))
		require.NoError(t, err)
		records := pageRecords(page)
		require.Len(t, records, min(100, max(0, total-100*k)))
		if len(records) < 2 {
			require.NotContains(t, page, ";")
		}
		all = append(all, records...)
	}

	require.Len(t, all, total)
	for i, record := range all {
		fields := strings.Split(record, " | ")
		require.Len(t, fields, 3)
		require.Equal(t, ids[i], fields[0])
		require.Equal(t, "item"+strconv.Itoa(i), fields[1])
		require.Equal(t, strconv.Itoa(i+1), fields[2])
	}
}

func TestBuyProduct(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	listing := newSeller(t, svc, "seller", 10)
	openAccounts(t, svc, "buyer")

	t.Run("unknown listing", func(t *testing.T) {
		_, err := svc.BuyProduct(ctx, "buyer", listing.ID+100, testAddress, d(11))
		require.ErrorIs(t, err, ErrInvalidListing)
	})

	t.Run("missing address", func(t *testing.T) {
		_, err := svc.BuyProduct(ctx, "buyer", listing.ID, model.ShippingAddress{City: "Abidjan"}, d(11))
		require.ErrorIs(t, err, ErrInsufficientData)
	})

	t.Run("insufficient payment", func(t *testing.T) {
		_, err := svc.BuyProduct(ctx, "buyer", listing.ID, testAddress, decimal.RequireFromString("10.5"))
		require.ErrorIs(t, err, ErrInsufficientPayment)
		require.EqualError(t, err, "insufficient payment: payment amount must be greater than or equal 11")
		requireBalance(t, svc, "buyer", d(1_000_000))

		page, err := svc.GetAvailableProducts(ctx, 0)
		require.NoError(t, err)
		require.Len(t, pageRecords(page), 1)
	})

	t.Run("insufficient funds", func(t *testing.T) {
		_, err := svc.BuyProduct(ctx, "empty", listing.ID, testAddress, d(11))
		require.ErrorIs(t, err, ErrInsufficientFunds)

		page, err := svc.GetAvailableProducts(ctx, 0)
		require.NoError(t, err)
		require.Len(t, pageRecords(page), 1)

		tickets, err := svc.GetTickets(ctx, "seller")
		require.NoError(t, err)
		require.Empty(t, tickets)
	})

	t.Run("success", func(t *testing.T) {
		order, err := svc.BuyProduct(ctx, "buyer", listing.ID, testAddress, d(11))
		require.NoError(t, err)
		require.Equal(t, model.OrderStatusPurchased, order.Data.Status)
		require.Equal(t, "seller", order.Data.Seller)
		require.Equal(t, testAddress, order.Data.Address)
		require.True(t, order.Data.Escrow.Equal(d(10)))
		requireBalance(t, svc, "buyer", d(1_000_000-11))

		page, err := svc.GetAvailableProducts(ctx, 0)
		require.NoError(t, err)
		require.Equal(t, "products : ", page)

		sellerTickets, err := svc.GetTickets(ctx, "seller")
		require.NoError(t, err)
		require.Equal(t, []model.Ticket{{ID: listing.ID, Role: model.TicketRoleSeller, Holder: "seller"}}, sellerTickets)
		buyerTickets, err := svc.GetTickets(ctx, "buyer")
		require.NoError(t, err)
		require.Equal(t, []model.Ticket{{ID: listing.ID, Role: model.TicketRoleBuyer, Holder: "buyer"}}, buyerTickets)

		_, err = svc.BuyProduct(ctx, "buyer", listing.ID, testAddress, d(11))
		require.ErrorIs(t, err, ErrInvalidListing)
	})
}

func TestCollectPostalStamp(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	listing := newSeller(t, svc, "seller", 10)
	openAccounts(t, svc, "buyer")

	_, err := svc.CollectPostalStamp(ctx, "seller", listing.ID)
	require.ErrorIs(t, err, ErrProductNotPurchased)
	require.EqualError(t, err, "product must be purchased")

	_, err = svc.BuyProduct(ctx, "buyer", listing.ID, testAddress, d(11))
	require.NoError(t, err)

	_, err = svc.CollectPostalStamp(ctx, "buyer", listing.ID)
	require.ErrorIs(t, err, ErrMissingTicket)

	order, err := svc.CollectPostalStamp(ctx, "seller", listing.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusStampCollected, order.Data.Status)
	require.NotEmpty(t, order.Data.PostalStamp)

	_, err = svc.CollectPostalStamp(ctx, "seller", listing.ID)
	require.ErrorIs(t, err, ErrAlreadyCollected)
	require.EqualError(t, err, "postal stamp has already collected")
	requireStatus(t, svc, "seller", listing.ID, model.OrderStatusStampCollected)
}

type failingPostal struct{}

func (failingPostal) IssueStamp(context.Context, model.Order) (string, error) {
	return "", errors.New("postal system is down")
}

func TestCollectPostalStampPostalFailure(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	listing := newSeller(t, svc, "seller", 10)
	openAccounts(t, svc, "buyer")
	_, err := svc.BuyProduct(ctx, "buyer", listing.ID, testAddress, d(11))
	require.NoError(t, err)

	svc.(*service).postal = failingPostal{}
	_, err = svc.CollectPostalStamp(ctx, "seller", listing.ID)
	require.Error(t, err)
	requireStatus(t, svc, "seller", listing.ID, model.OrderStatusPurchased)
}

func TestOrderTransitionsSequential(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	listing := newSeller(t, svc, "seller", 10)
	openAccounts(t, svc, "buyer")
	_, err := svc.BuyProduct(ctx, "buyer", listing.ID, testAddress, d(11))
	require.NoError(t, err)

	_, err = svc.SendProduct(ctx, "seller", listing.ID)
	require.ErrorIs(t, err, ErrWrongOrderState)
	requireStatus(t, svc, "seller", listing.ID, model.OrderStatusPurchased)

	_, err = svc.ConfirmReception(ctx, "buyer", listing.ID)
	require.ErrorIs(t, err, ErrWrongOrderState)
	requireStatus(t, svc, "buyer", listing.ID, model.OrderStatusPurchased)

	_, err = svc.CollectPostalStamp(ctx, "seller", listing.ID)
	require.NoError(t, err)

	_, err = svc.ConfirmReception(ctx, "buyer", listing.ID)
	require.ErrorIs(t, err, ErrWrongOrderState)
	requireStatus(t, svc, "buyer", listing.ID, model.OrderStatusStampCollected)

	_, err = svc.SendProduct(ctx, "buyer", listing.ID)
	require.ErrorIs(t, err, ErrMissingTicket)

	_, err = svc.SendProduct(ctx, "seller", listing.ID)
	require.NoError(t, err)
	_, err = svc.SendProduct(ctx, "seller", listing.ID)
	require.ErrorIs(t, err, ErrWrongOrderState)

	_, err = svc.ConfirmReception(ctx, "seller", listing.ID)
	require.ErrorIs(t, err, ErrMissingTicket)

	order, err := svc.ConfirmReception(ctx, "buyer", listing.ID)
	require.NoError(t, err)
	require.Equal(t, model.OrderStatusReceived, order.Data.Status)

	// билет покупателя сожжен, билет продавца остается
	buyerTickets, err := svc.GetTickets(ctx, "buyer")
	require.NoError(t, err)
	require.Empty(t, buyerTickets)
	sellerTickets, err := svc.GetTickets(ctx, "seller")
	require.NoError(t, err)
	require.Len(t, sellerTickets, 1)

	_, err = svc.ConfirmReception(ctx, "buyer", listing.ID)
	require.ErrorIs(t, err, ErrMissingTicket)
	_, err = svc.SendProduct(ctx, "seller", listing.ID)
	require.ErrorIs(t, err, ErrWrongOrderState)
}

func TestEndToEnd(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	openAccounts(t, svc, testOperator)

	listing := newSeller(t, svc, "seller", 10)
	openAccounts(t, svc, "buyer")
	requireVaults(t, svc, st)

	_, err := svc.BuyProduct(ctx, "buyer", listing.ID, testAddress, d(11))
	require.NoError(t, err)
	requireVaults(t, svc, st)

	// до получения товара продавцу нечего забирать
	collected, err := svc.CollectBySeller(ctx, "seller")
	require.NoError(t, err)
	require.True(t, collected.IsZero())

	_, err = svc.CollectPostalStamp(ctx, "seller", listing.ID)
	require.NoError(t, err)
	_, err = svc.SendProduct(ctx, "seller", listing.ID)
	require.NoError(t, err)
	_, err = svc.ConfirmReception(ctx, "buyer", listing.ID)
	require.NoError(t, err)
	requireVaults(t, svc, st)

	pool, err := svc.GetFeePool(ctx, testOperator)
	require.NoError(t, err)
	require.True(t, pool.PerSeller["seller"].Equal(d(10)))
	require.True(t, pool.Operator.Equal(d(2)))

	collected, err = svc.CollectBySeller(ctx, "seller")
	require.NoError(t, err)
	require.True(t, collected.Equal(d(10)))
	requireBalance(t, svc, "seller", d(1_000_000-1+10))

	collected, err = svc.CollectByAdmin(ctx, testOperator)
	require.NoError(t, err)
	require.True(t, collected.Equal(d(2)))
	requireBalance(t, svc, testOperator, d(1_000_000+2))
	requireBalance(t, svc, "buyer", d(1_000_000-11))

	// повторный вызов ничего не переводит
	collected, err = svc.CollectBySeller(ctx, "seller")
	require.NoError(t, err)
	require.True(t, collected.IsZero())
	requireBalance(t, svc, "seller", d(1_000_000-1+10))

	collected, err = svc.CollectByAdmin(ctx, testOperator)
	require.NoError(t, err)
	require.True(t, collected.IsZero())
	requireBalance(t, svc, testOperator, d(1_000_000+2))
	requireVaults(t, svc, st)
}

func TestOverpaymentGoesToSeller(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	listing := newSeller(t, svc, "seller", 10)
	openAccounts(t, svc, "buyer")

	order, err := svc.BuyProduct(ctx, "buyer", listing.ID, testAddress, d(15))
	require.NoError(t, err)
	require.True(t, order.Data.Escrow.Equal(d(14)))
	requireBalance(t, svc, "buyer", d(1_000_000-15))

	_, err = svc.CollectPostalStamp(ctx, "seller", listing.ID)
	require.NoError(t, err)
	_, err = svc.SendProduct(ctx, "seller", listing.ID)
	require.NoError(t, err)
	_, err = svc.ConfirmReception(ctx, "buyer", listing.ID)
	require.NoError(t, err)
	requireVaults(t, svc, st)

	collected, err := svc.CollectBySeller(ctx, "seller")
	require.NoError(t, err)
	require.True(t, collected.Equal(d(14)))
	collected, err = svc.CollectByAdmin(ctx, testOperator)
	require.NoError(t, err)
	require.True(t, collected.Equal(d(2)))
}

func TestCollectMissingCredential(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CollectBySeller(ctx, "stranger")
	require.ErrorIs(t, err, ErrMissingCredential)

	_, err = svc.CollectByAdmin(ctx, "stranger")
	require.ErrorIs(t, err, ErrMissingCredential)

	_, err = svc.GetFeePool(ctx, "stranger")
	require.ErrorIs(t, err, ErrMissingCredential)
}

func TestInitOperator(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.InitOperator(ctx, testOperator))

	err := svc.InitOperator(ctx, "usurper")
	require.ErrorIs(t, err, custody.ErrDuplicateNonFungible)
	_, err = svc.CollectByAdmin(ctx, "usurper")
	require.ErrorIs(t, err, ErrMissingCredential)
}

func TestNewServiceConfig(t *testing.T) {
	st := store.NewMemoryStore()

	_, err := NewService(config.Config{}, st, zap.NewNop())
	require.ErrorIs(t, err, ErrInsufficientData)

	_, err = NewService(config.Config{Currency: testCurrency, BuyFee: d(-1)}, st, zap.NewNop())
	require.ErrorIs(t, err, custody.ErrInvalidAmount)
}
