package config

import "github.com/shopspring/decimal"

// Параметры площадки, неизменные после запуска
type Config struct {
	Currency string
	SellFee  decimal.Decimal
	BuyFee   decimal.Decimal

	// Начальный баланс нового счета
	InitialGrant decimal.Decimal

	OperatorLogin    string
	OperatorPassword string

	// Пустая строка - марки выпускаются локально
	PostalAddr string
}
