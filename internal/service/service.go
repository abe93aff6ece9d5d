package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/productmarket/internal/catalog"
	"github.com/iurnickita/productmarket/internal/custody"
	"github.com/iurnickita/productmarket/internal/fees"
	"github.com/iurnickita/productmarket/internal/metrics"
	"github.com/iurnickita/productmarket/internal/model"
	"github.com/iurnickita/productmarket/internal/orders"
	"github.com/iurnickita/productmarket/internal/registry"
	"github.com/iurnickita/productmarket/internal/service/config"
	"github.com/iurnickita/productmarket/internal/service/postalclient"
	"github.com/iurnickita/productmarket/internal/store"
)

type Service interface {
	// InitOperator выдает оператору значок администратора (повторно ничего не делает)
	InitOperator(ctx context.Context, operator string) error
	OpenAccount(ctx context.Context, account string) error

	RegisterAsSeller(ctx context.Context, caller string) (model.SellerCredential, error)
	ListProduct(ctx context.Context, caller string, name string, price decimal.Decimal, fee decimal.Decimal) (model.Listing, error)
	GetAvailableProducts(ctx context.Context, pageIndex uint32) (string, error)

	BuyProduct(ctx context.Context, caller string, listingID uint64, address model.ShippingAddress, payment decimal.Decimal) (model.Order, error)
	CollectPostalStamp(ctx context.Context, caller string, ticketID uint64) (model.Order, error)
	SendProduct(ctx context.Context, caller string, ticketID uint64) (model.Order, error)
	ConfirmReception(ctx context.Context, caller string, ticketID uint64) (model.Order, error)

	CollectBySeller(ctx context.Context, caller string) (decimal.Decimal, error)
	CollectByAdmin(ctx context.Context, caller string) (decimal.Decimal, error)

	GetBalance(ctx context.Context, account string) (decimal.Decimal, error)
	GetOrders(ctx context.Context, account string) ([]model.Order, error)
	GetTickets(ctx context.Context, account string) ([]model.Ticket, error)
	GetFeePool(ctx context.Context, caller string) (model.FeePool, error)
}

var (
	ErrNotRegistered       = registry.ErrNotRegistered
	ErrAlreadyRegistered   = registry.ErrAlreadyRegistered
	ErrInvalidPrice        = catalog.ErrInvalidPrice
	ErrInvalidListing      = catalog.ErrInvalidListing
	ErrProductNotPurchased = orders.ErrProductNotPurchased
	ErrAlreadyCollected    = orders.ErrAlreadyCollected
	ErrWrongOrderState     = orders.ErrWrongOrderState
	ErrMissingTicket       = orders.ErrMissingTicket
	ErrInsufficientFunds   = custody.ErrInsufficientFunds

	ErrInsufficientListingFee = errors.New("insufficient listing fee")
	ErrInsufficientPayment    = errors.New("insufficient payment")
	ErrMissingCredential      = errors.New("missing credential")
	ErrInsufficientData       = errors.New("insufficient data")
)

// Имена операций для журнала и метрик
const (
	opInitOperator       = "init_operator"
	opOpenAccount        = "open_account"
	opRegisterAsSeller   = "register_as_seller"
	opListProduct        = "list_product"
	opBuyProduct         = "buy_product"
	opCollectPostalStamp = "collect_postal_stamp"
	opSendProduct        = "send_product"
	opConfirmReception   = "confirm_reception"
	opCollectBySeller    = "collect_by_seller"
	opCollectByAdmin     = "collect_by_admin"
)

type service struct {
	cfg    config.Config
	store  store.Store
	postal postalclient.PostalClient
	zaplog *zap.Logger
}

func NewService(cfg config.Config, store store.Store, zaplog *zap.Logger) (Service, error) {
	if cfg.Currency == "" {
		return nil, fmt.Errorf("%w: currency is not set", ErrInsufficientData)
	}
	if cfg.SellFee.IsNegative() || cfg.BuyFee.IsNegative() {
		return nil, fmt.Errorf("%w: fees must not be negative", custody.ErrInvalidAmount)
	}

	service := service{
		cfg:    cfg,
		store:  store,
		postal: postalclient.NewPostalClient(cfg.PostalAddr),
		zaplog: zaplog,
	}
	return &service, nil
}

// run выполняет fn как одну операцию площадки
func (service *service) run(ctx context.Context, operation string, fn func(tx store.Tx) error) error {
	start := time.Now()
	err := service.store.Atomic(ctx, fn)
	service.observe(operation, start, err)
	return err
}

func (service *service) observe(operation string, start time.Time, err error) {
	metrics.Observe(operation, start, err)
	if err != nil {
		service.zaplog.Debug("operation rejected",
			zap.String("operation", operation),
			zap.Error(err),
		)
		return
	}
	service.zaplog.Info("operation committed",
		zap.String("operation", operation),
		zap.Duration("duration", time.Since(start)),
	)
}

func (service *service) now() time.Time {
	return time.Now().UTC()
}

func (service *service) InitOperator(ctx context.Context, operator string) error {
	if operator == "" {
		return ErrInsufficientData
	}
	return service.run(ctx, opInitOperator, func(tx store.Tx) error {
		c := tx.Custody()
		_, err := c.RequireAnyProof(ctx, operator, custody.ResourceAdminBadge)
		if err == nil {
			return nil
		}
		if !errors.Is(err, custody.ErrMissingProof) {
			return err
		}
		// Значок оператора единственный на площадке
		return c.Mint(ctx, operator, custody.ResourceAdminBadge, 1, operator)
	})
}

func (service *service) OpenAccount(ctx context.Context, account string) error {
	if account == "" {
		return ErrInsufficientData
	}
	if !service.cfg.InitialGrant.IsPositive() {
		return nil
	}
	return service.run(ctx, opOpenAccount, func(tx store.Tx) error {
		return tx.Custody().Fund(ctx, account, service.cfg.Currency, service.cfg.InitialGrant)
	})
}

func (service *service) RegisterAsSeller(ctx context.Context, caller string) (model.SellerCredential, error) {
	if caller == "" {
		return model.SellerCredential{}, ErrInsufficientData
	}

	var credential model.SellerCredential
	err := service.run(ctx, opRegisterAsSeller, func(tx store.Tx) error {
		var err error
		credential, err = registry.NewRegistry(tx).Register(ctx, caller, service.now())
		return err
	})
	if err != nil {
		return model.SellerCredential{}, err
	}
	return credential, nil
}

func (service *service) ListProduct(ctx context.Context, caller string, name string, price decimal.Decimal, fee decimal.Decimal) (model.Listing, error) {
	if caller == "" || !catalog.ValidName(name) {
		return model.Listing{}, ErrInsufficientData
	}

	var listing model.Listing
	err := service.run(ctx, opListProduct, func(tx store.Tx) error {
		_, err := registry.NewRegistry(tx).Require(ctx, caller)
		if err != nil {
			return err
		}
		if !price.IsPositive() {
			return ErrInvalidPrice
		}
		if fee.LessThan(service.cfg.SellFee) {
			return fmt.Errorf("%w: the fees must be >= %s", ErrInsufficientListingFee, service.cfg.SellFee)
		}

		err = fees.NewFees(tx, service.cfg.Currency).ChargeListingFee(ctx, caller, fee)
		if err != nil {
			return err
		}
		listing, err = catalog.NewCatalog(tx).Add(ctx, model.ListingData{
			Seller:   caller,
			Name:     name,
			Price:    price,
			Currency: service.cfg.Currency,
			ListedAt: service.now(),
		})
		return err
	})
	if err != nil {
		return model.Listing{}, err
	}
	return listing, nil
}

func (service *service) GetAvailableProducts(ctx context.Context, pageIndex uint32) (string, error) {
	var page []model.Listing
	err := service.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		page, err = catalog.NewCatalog(tx).Page(ctx, pageIndex)
		return err
	})
	if err != nil {
		return "", err
	}
	return catalog.FormatPage(page), nil
}

func (service *service) BuyProduct(ctx context.Context, caller string, listingID uint64, address model.ShippingAddress,
	payment decimal.Decimal) (model.Order, error) {

	if caller == "" || address.City == "" || address.Street == "" || address.Zip == "" {
		return model.Order{}, ErrInsufficientData
	}

	var order model.Order
	err := service.run(ctx, opBuyProduct, func(tx store.Tx) error {
		products := catalog.NewCatalog(tx)
		listing, err := products.Get(ctx, listingID)
		if err != nil {
			return err
		}
		required := listing.Data.Price.Add(service.cfg.BuyFee)
		if payment.LessThan(required) {
			return fmt.Errorf("%w: payment amount must be greater than or equal %s", ErrInsufficientPayment, required)
		}

		_, err = products.Remove(ctx, listingID)
		if err != nil {
			return err
		}
		// Излишек оплаты остается в эскроу и уходит продавцу
		held, err := fees.NewFees(tx, service.cfg.Currency).CapturePayment(ctx, caller, payment, service.cfg.BuyFee)
		if err != nil {
			return err
		}
		order, err = orders.NewLedger(tx).Open(ctx, listing, caller, address, service.cfg.BuyFee, held, service.now())
		return err
	})
	if err != nil {
		return model.Order{}, err
	}
	return order, nil
}

// Запрос к почте идет вне транзакции, поэтому заказ проверяется повторно при записи марки
func (service *service) CollectPostalStamp(ctx context.Context, caller string, ticketID uint64) (model.Order, error) {
	start := time.Now()
	order, err := service.collectPostalStamp(ctx, caller, ticketID)
	service.observe(opCollectPostalStamp, start, err)
	return order, err
}

func (service *service) collectPostalStamp(ctx context.Context, caller string, ticketID uint64) (model.Order, error) {
	var order model.Order
	err := service.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		order, err = orders.NewLedger(tx).CheckStamp(ctx, caller, ticketID)
		return err
	})
	if err != nil {
		return model.Order{}, err
	}

	stamp, err := service.postal.IssueStamp(ctx, order)
	if err != nil {
		service.zaplog.Warn("postal stamp is not issued",
			zap.Uint64("order", ticketID),
			zap.Error(err),
		)
		return model.Order{}, err
	}

	err = service.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		order, err = orders.NewLedger(tx).CollectStamp(ctx, caller, ticketID, stamp, service.now())
		return err
	})
	if err != nil {
		return model.Order{}, err
	}
	return order, nil
}

func (service *service) SendProduct(ctx context.Context, caller string, ticketID uint64) (model.Order, error) {
	var order model.Order
	err := service.run(ctx, opSendProduct, func(tx store.Tx) error {
		var err error
		order, err = orders.NewLedger(tx).Ship(ctx, caller, ticketID, service.now())
		return err
	})
	if err != nil {
		return model.Order{}, err
	}
	return order, nil
}

func (service *service) ConfirmReception(ctx context.Context, caller string, ticketID uint64) (model.Order, error) {
	var order model.Order
	err := service.run(ctx, opConfirmReception, func(tx store.Tx) error {
		var err error
		order, err = orders.NewLedger(tx).Receive(ctx, caller, ticketID, service.now())
		if err != nil {
			return err
		}
		return fees.NewFees(tx, service.cfg.Currency).ReleaseEscrow(ctx, order.Data.Seller, order.Data.Escrow)
	})
	if err != nil {
		return model.Order{}, err
	}
	return order, nil
}

func (service *service) CollectBySeller(ctx context.Context, caller string) (decimal.Decimal, error) {
	collected := decimal.Zero
	err := service.run(ctx, opCollectBySeller, func(tx store.Tx) error {
		_, err := registry.NewRegistry(tx).Require(ctx, caller)
		if err != nil {
			if errors.Is(err, ErrNotRegistered) {
				return ErrMissingCredential
			}
			return err
		}
		collected, err = fees.NewFees(tx, service.cfg.Currency).CollectSeller(ctx, caller)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return collected, nil
}

func (service *service) CollectByAdmin(ctx context.Context, caller string) (decimal.Decimal, error) {
	collected := decimal.Zero
	err := service.run(ctx, opCollectByAdmin, func(tx store.Tx) error {
		err := requireOperator(ctx, tx, caller)
		if err != nil {
			return err
		}
		collected, err = fees.NewFees(tx, service.cfg.Currency).CollectOperator(ctx, caller)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return collected, nil
}

func requireOperator(ctx context.Context, tx store.Tx, caller string) error {
	_, err := tx.Custody().RequireAnyProof(ctx, caller, custody.ResourceAdminBadge)
	if err != nil {
		if errors.Is(err, custody.ErrMissingProof) {
			return ErrMissingCredential
		}
		return err
	}
	return nil
}

func (service *service) GetBalance(ctx context.Context, account string) (decimal.Decimal, error) {
	if account == "" {
		return decimal.Zero, ErrInsufficientData
	}

	balance := decimal.Zero
	err := service.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		balance, err = tx.Custody().Balance(ctx, account, service.cfg.Currency)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func (service *service) GetOrders(ctx context.Context, account string) ([]model.Order, error) {
	if account == "" {
		return nil, ErrInsufficientData
	}

	var accountOrders []model.Order
	err := service.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		accountOrders, err = orders.NewLedger(tx).ByAccount(ctx, account)
		return err
	})
	if err != nil {
		return nil, err
	}
	return accountOrders, nil
}

func (service *service) GetTickets(ctx context.Context, account string) ([]model.Ticket, error) {
	if account == "" {
		return nil, ErrInsufficientData
	}

	var tickets []model.Ticket
	err := service.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		tickets, err = orders.NewLedger(tx).Tickets(ctx, account)
		return err
	})
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

func (service *service) GetFeePool(ctx context.Context, caller string) (model.FeePool, error) {
	var pool model.FeePool
	err := service.store.Atomic(ctx, func(tx store.Tx) error {
		err := requireOperator(ctx, tx, caller)
		if err != nil {
			return err
		}
		pool, err = fees.NewFees(tx, service.cfg.Currency).Pool(ctx)
		return err
	})
	if err != nil {
		return model.FeePool{}, err
	}
	return pool, nil
}
