package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	authConfig "github.com/iurnickita/productmarket/internal/auth/config"
	handlerConfig "github.com/iurnickita/productmarket/internal/handler/config"
	loggerConfig "github.com/iurnickita/productmarket/internal/logger/config"
	serviceConfig "github.com/iurnickita/productmarket/internal/service/config"
	storeConfig "github.com/iurnickita/productmarket/internal/store/config"
)

type Config struct {
	Handler handlerConfig.Config
	Service serviceConfig.Config
	Store   storeConfig.Config
	Logger  loggerConfig.Config
	Auth    authConfig.Config
}

// Ключи параметров. Переменная окружения - ключ в верхнем регистре
const (
	keyRunAddress       = "run_address"
	keyDatabaseURI      = "database_uri"
	keyLogLevel         = "log_level"
	keyTokenSecret      = "token_secret"
	keyTokenTTL         = "token_ttl"
	keyCurrency         = "market_currency"
	keySellFee          = "market_sell_fee"
	keyBuyFee           = "market_buy_fee"
	keyInitialGrant     = "initial_grant"
	keyOperatorLogin    = "operator_login"
	keyOperatorPassword = "operator_password"
	keyPostalAddress    = "postal_system_address"

	envConfigFile = "CONFIG"
)

var keys = []string{
	keyRunAddress, keyDatabaseURI, keyLogLevel, keyTokenSecret, keyTokenTTL,
	keyCurrency, keySellFee, keyBuyFee, keyInitialGrant,
	keyOperatorLogin, keyOperatorPassword, keyPostalAddress,
}

var defaults = map[string]string{
	keyRunAddress:    "localhost:8080",
	keyLogLevel:      "info",
	keyTokenTTL:      "24h",
	keyCurrency:      "XRD",
	keySellFee:       "1",
	keyBuyFee:        "1",
	keyInitialGrant:  "0",
	keyOperatorLogin: "operator",
}

var ErrInvalidConfig = errors.New("invalid config")

// GetConfig собирает параметры по возрастанию приоритета:
// значения по умолчанию, YAML-файл, флаги, переменные окружения.
func GetConfig() (Config, error) {
	return getConfig(os.Args[1:], os.Getenv)
}

func getConfig(args []string, getenv func(string) string) (Config, error) {
	values := make(map[string]string, len(keys))
	for key, value := range defaults {
		values[key] = value
	}

	fs := flag.NewFlagSet("productmarket", flag.ContinueOnError)
	configFile := fs.String("c", "", "path to YAML config file")
	flagKeys := map[string]string{
		"a": keyRunAddress,
		"d": keyDatabaseURI,
		"l": keyLogLevel,
		"r": keyPostalAddress,
	}
	flagValues := make(map[string]*string, len(flagKeys))
	for name, key := range flagKeys {
		flagValues[name] = fs.String(name, "", key)
	}
	err := fs.Parse(args)
	if err != nil {
		return Config{}, err
	}

	if envFile := getenv(envConfigFile); envFile != "" {
		*configFile = envFile
	}
	if *configFile != "" {
		err = readFile(*configFile, values)
		if err != nil {
			return Config{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			values[key] = *flagValues[f.Name]
		}
	})

	for _, key := range keys {
		if value := getenv(strings.ToUpper(key)); value != "" {
			values[key] = value
		}
	}

	return parse(values)
}

func readFile(path string, values map[string]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fileValues map[string]string
	err = yaml.Unmarshal(data, &fileValues)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}
	for key, value := range fileValues {
		values[key] = value
	}
	return nil
}

func parseAmount(values map[string]string, key string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(values[key])
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, key, err)
	}
	if amount.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, key)
	}
	return amount, nil
}

func parse(values map[string]string) (Config, error) {
	var cfg Config
	var err error

	cfg.Handler.ServerAddr = values[keyRunAddress]
	cfg.Store.DBDsn = values[keyDatabaseURI]
	cfg.Logger.LogLevel = values[keyLogLevel]

	cfg.Auth.TokenSecret = values[keyTokenSecret]
	if cfg.Auth.TokenSecret == "" {
		// токены действительны до перезапуска
		cfg.Auth.TokenSecret = uuid.NewString()
	}
	cfg.Auth.TokenTTL, err = time.ParseDuration(values[keyTokenTTL])
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, keyTokenTTL, err)
	}

	cfg.Service.Currency = values[keyCurrency]
	if cfg.Service.Currency == "" {
		return Config{}, fmt.Errorf("%w: %s is empty", ErrInvalidConfig, keyCurrency)
	}
	cfg.Service.SellFee, err = parseAmount(values, keySellFee)
	if err != nil {
		return Config{}, err
	}
	cfg.Service.BuyFee, err = parseAmount(values, keyBuyFee)
	if err != nil {
		return Config{}, err
	}
	cfg.Service.InitialGrant, err = parseAmount(values, keyInitialGrant)
	if err != nil {
		return Config{}, err
	}
	cfg.Service.OperatorLogin = values[keyOperatorLogin]
	cfg.Service.OperatorPassword = values[keyOperatorPassword]
	cfg.Service.PostalAddr = values[keyPostalAddress]

	return cfg, nil
}
