// Заказ проходит PURCHASED -> STAMP_COLLECTED -> SHIPPED -> RECEIVED.
// Билеты продавца и покупателя имеют id товара, каждый шаг разрешает только нужный билет
package orders

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iurnickita/productmarket/internal/custody"
	"github.com/iurnickita/productmarket/internal/model"
	"github.com/iurnickita/productmarket/internal/store"
)

var (
	ErrProductNotPurchased = errors.New("product must be purchased")
	ErrAlreadyCollected    = errors.New("postal stamp has already collected")
	ErrWrongOrderState     = errors.New("wrong order state")
	ErrMissingTicket       = errors.New("missing ticket")
)

type Ledger interface {
	Open(ctx context.Context, listing model.Listing, buyer string, address model.ShippingAddress,
		buyFee decimal.Decimal, escrow decimal.Decimal, at time.Time) (model.Order, error)
	Get(ctx context.Context, listingID uint64) (model.Order, error)
	CheckStamp(ctx context.Context, seller string, ticketID uint64) (model.Order, error)
	CollectStamp(ctx context.Context, seller string, ticketID uint64, stamp string, at time.Time) (model.Order, error)
	Ship(ctx context.Context, seller string, ticketID uint64, at time.Time) (model.Order, error)
	Receive(ctx context.Context, buyer string, ticketID uint64, at time.Time) (model.Order, error)
	ByAccount(ctx context.Context, account string) ([]model.Order, error)
	Tickets(ctx context.Context, account string) ([]model.Ticket, error)
}

type ledger struct {
	tx store.Tx
}

func NewLedger(tx store.Tx) Ledger {
	return &ledger{tx: tx}
}

// Advance - ровно один шаг вперед
func Advance(order *model.Order, status model.OrderStatus, at time.Time) error {
	if status.Rank() < 0 || status.Rank() != order.Data.Status.Rank()+1 {
		return ErrWrongOrderState
	}
	order.Data.Status = status
	order.Data.UpdatedAt = at
	return nil
}

func (ledger *ledger) Open(ctx context.Context, listing model.Listing, buyer string, address model.ShippingAddress,
	buyFee decimal.Decimal, escrow decimal.Decimal, at time.Time) (model.Order, error) {

	order := model.Order{
		ListingID: listing.ID,
		Data: model.OrderData{
			Seller:         listing.Data.Seller,
			Buyer:          buyer,
			Name:           listing.Data.Name,
			Price:          listing.Data.Price,
			BuyFee:         buyFee,
			Escrow:         escrow,
			Currency:       listing.Data.Currency,
			Address:        address,
			Status:         model.OrderStatusPurchased,
			SellerTicketID: listing.ID,
			BuyerTicketID:  listing.ID,
			PurchasedAt:    at,
			UpdatedAt:      at,
		},
	}

	c := ledger.tx.Custody()
	err := c.Mint(ctx, order.Data.Seller, custody.ResourceSellerTicket, order.Data.SellerTicketID, string(model.TicketRoleSeller))
	if err != nil {
		return model.Order{}, err
	}
	err = c.Mint(ctx, buyer, custody.ResourceBuyerTicket, order.Data.BuyerTicketID, string(model.TicketRoleBuyer))
	if err != nil {
		return model.Order{}, err
	}

	err = ledger.tx.OrderPost(ctx, order)
	if err != nil {
		return model.Order{}, err
	}
	return order, nil
}

func (ledger *ledger) Get(ctx context.Context, listingID uint64) (model.Order, error) {
	order, err := ledger.tx.OrderGet(ctx, listingID)
	if err != nil {
		if err == store.ErrNoRows {
			return model.Order{}, ErrProductNotPurchased
		}
		return model.Order{}, err
	}
	return order, nil
}

func (ledger *ledger) requireTicket(ctx context.Context, holder string, resource string, id uint64) error {
	err := ledger.tx.Custody().RequireProof(ctx, holder, resource, id)
	if err != nil {
		if errors.Is(err, custody.ErrMissingProof) {
			return ErrMissingTicket
		}
		return err
	}
	return nil
}

func (ledger *ledger) CheckStamp(ctx context.Context, seller string, ticketID uint64) (model.Order, error) {
	order, err := ledger.Get(ctx, ticketID)
	if err != nil {
		return model.Order{}, err
	}
	err = ledger.requireTicket(ctx, seller, custody.ResourceSellerTicket, order.Data.SellerTicketID)
	if err != nil {
		return model.Order{}, err
	}
	if order.Data.PostalStamp != "" {
		return model.Order{}, ErrAlreadyCollected
	}
	if order.Data.Status != model.OrderStatusPurchased {
		return model.Order{}, ErrProductNotPurchased
	}
	return order, nil
}

func (ledger *ledger) CollectStamp(ctx context.Context, seller string, ticketID uint64, stamp string, at time.Time) (model.Order, error) {
	order, err := ledger.CheckStamp(ctx, seller, ticketID)
	if err != nil {
		return model.Order{}, err
	}
	err = Advance(&order, model.OrderStatusStampCollected, at)
	if err != nil {
		return model.Order{}, err
	}
	order.Data.PostalStamp = stamp
	err = ledger.tx.OrderPut(ctx, order)
	if err != nil {
		return model.Order{}, err
	}
	return order, nil
}

func (ledger *ledger) Ship(ctx context.Context, seller string, ticketID uint64, at time.Time) (model.Order, error) {
	order, err := ledger.Get(ctx, ticketID)
	if err != nil {
		return model.Order{}, err
	}
	err = ledger.requireTicket(ctx, seller, custody.ResourceSellerTicket, order.Data.SellerTicketID)
	if err != nil {
		return model.Order{}, err
	}
	err = Advance(&order, model.OrderStatusShipped, at)
	if err != nil {
		return model.Order{}, err
	}
	err = ledger.tx.OrderPut(ctx, order)
	if err != nil {
		return model.Order{}, err
	}
	return order, nil
}

// Receive завершает заказ и сжигает билет покупателя
func (ledger *ledger) Receive(ctx context.Context, buyer string, ticketID uint64, at time.Time) (model.Order, error) {
	order, err := ledger.Get(ctx, ticketID)
	if err != nil {
		return model.Order{}, err
	}
	err = ledger.requireTicket(ctx, buyer, custody.ResourceBuyerTicket, order.Data.BuyerTicketID)
	if err != nil {
		return model.Order{}, err
	}
	err = Advance(&order, model.OrderStatusReceived, at)
	if err != nil {
		return model.Order{}, err
	}
	err = ledger.tx.Custody().Burn(ctx, buyer, custody.ResourceBuyerTicket, order.Data.BuyerTicketID)
	if err != nil {
		return model.Order{}, err
	}
	err = ledger.tx.OrderPut(ctx, order)
	if err != nil {
		return model.Order{}, err
	}
	return order, nil
}

func (ledger *ledger) ByAccount(ctx context.Context, account string) ([]model.Order, error) {
	return ledger.tx.OrderGetByAccount(ctx, account)
}

func (ledger *ledger) Tickets(ctx context.Context, account string) ([]model.Ticket, error) {
	var tickets []model.Ticket
	for _, held := range []struct {
		resource string
		role     model.TicketRole
	}{
		{custody.ResourceSellerTicket, model.TicketRoleSeller},
		{custody.ResourceBuyerTicket, model.TicketRoleBuyer},
	} {
		ids, err := ledger.tx.Custody().Holdings(ctx, account, held.resource)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			tickets = append(tickets, model.Ticket{ID: id, Role: held.role, Holder: account})
		}
	}
	return tickets, nil
}
