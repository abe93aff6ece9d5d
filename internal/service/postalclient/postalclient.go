package postalclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/theplant/luhn"

	"github.com/iurnickita/productmarket/internal/model"
)

var ErrInvalidStamp = errors.New("postal stamp number is not valid")

// Нижняя граница номера, чтобы номера марок были одной длины
const localStampBase = 10_000_000

// JSON запрос к почтовой службе
type StampRequest struct {
	Order  string `json:"order"`
	City   string `json:"city"`
	Street string `json:"street"`
	Zip    string `json:"zip"`
}

// JSON ответ почтовой службы
type StampAnswer struct {
	Stamp string `json:"stamp"`
}

type PostalClient interface {
	IssueStamp(ctx context.Context, order model.Order) (string, error)
}

// без адреса марки выдаются локально
func NewPostalClient(serviceAddr string) PostalClient {
	if serviceAddr == "" {
		return localIssuer{}
	}
	return postalClient{serviceAddr: serviceAddr}
}

type postalClient struct {
	serviceAddr string
}

func (client postalClient) IssueStamp(ctx context.Context, order model.Order) (string, error) {
	path := "/api/stamps"
	orderNumber := strconv.FormatUint(order.ListingID, 10)

	// Ключ идемпотентности одинаков для повторов по одному заказу
	idempotencyKey := uuid.NewSHA1(uuid.NameSpaceOID, []byte("stamp:"+orderNumber))

	setreq := resty.New().R()
	setreq.SetContext(ctx)
	setreq.Method = http.MethodPost
	setreq.URL = client.serviceAddr + path
	setreq.SetHeader("Content-Type", "application/json")
	setreq.SetHeader("Idempotency-Key", idempotencyKey.String())
	setreq.SetBody(StampRequest{
		Order:  orderNumber,
		City:   order.Data.Address.City,
		Street: order.Data.Address.Street,
		Zip:    order.Data.Address.Zip,
	})
	setresp, err := setreq.Send()
	if err != nil {
		return "", err
	}

	switch setresp.StatusCode() {
	case http.StatusOK, http.StatusCreated:
		var stampAnswer StampAnswer
		err = json.Unmarshal(setresp.Body(), &stampAnswer)
		if err != nil {
			return "", err
		}
		if !ValidStamp(stampAnswer.Stamp) {
			return "", ErrInvalidStamp
		}
		return stampAnswer.Stamp, nil
	default:
		return "", fmt.Errorf("postal request status: %d", setresp.StatusCode())
	}
}

type localIssuer struct{}

func (localIssuer) IssueStamp(_ context.Context, order model.Order) (string, error) {
	return LocalStamp(order.ListingID), nil
}

// LocalStamp - номер марки из id товара с контрольной цифрой Луна
func LocalStamp(listingID uint64) string {
	base := localStampBase + int(listingID)
	return strconv.Itoa(base*10 + luhn.CalculateLuhn(base))
}

func ValidStamp(stamp string) bool {
	number, err := strconv.Atoi(stamp)
	if err != nil || number <= 0 {
		return false
	}
	return luhn.Valid(number)
}
