package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amount - денежная сумма в валюте площадки (фиксированная точка)
type Amount = decimal.Decimal

// Продавцы

type SellerCredential struct {
	Account      string
	BadgeID      uint64
	RegisteredAt time.Time
}

// Каталог

type Listing struct {
	ID   uint64
	Data ListingData
}
type ListingData struct {
	Seller   string
	Name     string
	Price    Amount
	Currency string
	ListedAt time.Time
}

// Заказы

type Order struct {
	ListingID uint64
	Data      OrderData
}
type OrderData struct {
	Seller         string
	Buyer          string
	Name           string
	Price          Amount
	BuyFee         Amount
	Escrow         Amount
	Currency       string
	Address        ShippingAddress
	Status         OrderStatus
	PostalStamp    string
	SellerTicketID uint64
	BuyerTicketID  uint64
	PurchasedAt    time.Time
	UpdatedAt      time.Time
}

type ShippingAddress struct {
	City   string
	Street string
	Zip    string
}

type OrderStatus string

const (
	OrderStatusPurchased      OrderStatus = "PURCHASED"
	OrderStatusStampCollected OrderStatus = "STAMP_COLLECTED"
	OrderStatusShipped        OrderStatus = "SHIPPED"
	OrderStatusReceived       OrderStatus = "RECEIVED"
)

// Rank - номер статуса в цепочке исполнения, -1 для неизвестного
func (s OrderStatus) Rank() int {
	switch s {
	case OrderStatusPurchased:
		return 0
	case OrderStatusStampCollected:
		return 1
	case OrderStatusShipped:
		return 2
	case OrderStatusReceived:
		return 3
	default:
		return -1
	}
}

// Билеты заказа

type TicketRole string

const (
	TicketRoleSeller TicketRole = "seller"
	TicketRoleBuyer  TicketRole = "buyer"
)

type Ticket struct {
	ID     uint64
	Role   TicketRole
	Holder string
}

// Комиссии и выручка

type FeePool struct {
	PerSeller map[string]Amount
	Operator  Amount
}
