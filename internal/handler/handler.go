package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/productmarket/internal/auth"
	"github.com/iurnickita/productmarket/internal/gzip"
	"github.com/iurnickita/productmarket/internal/handler/config"
	"github.com/iurnickita/productmarket/internal/logger"
	"github.com/iurnickita/productmarket/internal/metrics"
	"github.com/iurnickita/productmarket/internal/model"
	"github.com/iurnickita/productmarket/internal/service"
)

const shutdownTimeout = 5 * time.Second

func Serve(ctx context.Context, cfg config.Config, auth auth.Auth, service service.Service, zaplog *zap.Logger) error {
	h := newHandler(auth, service, zaplog)
	router := h.newRouter()

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: router,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	zaplog.Info("server started", zap.String("address", cfg.ServerAddr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		return err
	}
	zaplog.Info("server stopped")
	return nil
}

type handler struct {
	auth    auth.Auth
	service service.Service
	zaplog  *zap.Logger
}

func newHandler(auth auth.Auth, service service.Service, zaplog *zap.Logger) *handler {
	return &handler{
		auth:    auth,
		service: service,
		zaplog:  zaplog,
	}
}

// wrap добавляет сжатие и журнал запросов
func (h *handler) wrap(hf http.HandlerFunc) http.HandlerFunc {
	return gzip.GzipMiddleware(logger.RequestLogMdlw(hf, h.zaplog))
}

func (h *handler) newRouter() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/user/register", h.wrap(h.auth.Register))
	mux.HandleFunc("POST /api/user/login", h.wrap(h.auth.Login))
	mux.HandleFunc("GET /api/user/balance", h.wrap(h.auth.Middleware(h.GetBalance)))
	mux.HandleFunc("GET /api/user/orders", h.wrap(h.auth.Middleware(h.GetOrders)))
	mux.HandleFunc("GET /api/user/tickets", h.wrap(h.auth.Middleware(h.GetTickets)))

	mux.HandleFunc("POST /api/seller/register", h.wrap(h.auth.Middleware(h.RegisterAsSeller)))
	mux.HandleFunc("POST /api/seller/products", h.wrap(h.auth.Middleware(h.ListProduct)))
	mux.HandleFunc("POST /api/seller/collect", h.wrap(h.auth.Middleware(h.CollectBySeller)))

	mux.HandleFunc("GET /api/products", h.wrap(h.auth.Middleware(h.GetAvailableProducts)))
	mux.HandleFunc("POST /api/products/{id}/buy", h.wrap(h.auth.Middleware(h.BuyProduct)))

	mux.HandleFunc("POST /api/orders/{id}/stamp", h.wrap(h.auth.Middleware(h.CollectPostalStamp)))
	mux.HandleFunc("POST /api/orders/{id}/ship", h.wrap(h.auth.Middleware(h.SendProduct)))
	mux.HandleFunc("POST /api/orders/{id}/confirm", h.wrap(h.auth.Middleware(h.ConfirmReception)))

	mux.HandleFunc("POST /api/admin/collect", h.wrap(h.auth.Middleware(h.CollectByAdmin)))
	mux.HandleFunc("GET /api/admin/fees", h.wrap(h.auth.Middleware(h.GetFeePool)))

	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

// errorStatus сопоставляет ошибку операции с кодом ответа
func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrInsufficientData),
		errors.Is(err, service.ErrInvalidPrice):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotRegistered),
		errors.Is(err, service.ErrMissingCredential),
		errors.Is(err, service.ErrMissingTicket):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInsufficientListingFee),
		errors.Is(err, service.ErrInsufficientPayment),
		errors.Is(err, service.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrInvalidListing):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyRegistered),
		errors.Is(err, service.ErrProductNotPurchased),
		errors.Is(err, service.ErrAlreadyCollected),
		errors.Is(err, service.ErrWrongOrderState):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		h.zaplog.Error("request failed", zap.Error(err))
	}
	http.Error(w, err.Error(), status)
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	responseJSON, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(responseJSON)
}

func readJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil {
		return errors.Join(service.ErrInsufficientData, err)
	}
	return nil
}

func pathID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, errors.Join(service.ErrInsufficientData, err)
	}
	return id, nil
}

func userCode(r *http.Request) string {
	return r.Header.Get(auth.HeaderUserCodeKey)
}

type BalanceJSONResponse struct {
	Current decimal.Decimal `json:"current"`
}

func (h *handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.service.GetBalance(r.Context(), userCode(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, BalanceJSONResponse{Current: balance})
}

type OrderJSONResponse struct {
	ID          uint64          `json:"id"`
	Name        string          `json:"name"`
	Seller      string          `json:"seller"`
	Buyer       string          `json:"buyer"`
	Price       decimal.Decimal `json:"price"`
	BuyFee      decimal.Decimal `json:"buy_fee"`
	Escrow      decimal.Decimal `json:"escrow"`
	City        string          `json:"city"`
	Street      string          `json:"street"`
	Zip         string          `json:"zip"`
	Status      string          `json:"status"`
	PostalStamp string          `json:"postal_stamp,omitempty"`
	PurchasedAt time.Time       `json:"purchased_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func orderJSON(order model.Order) OrderJSONResponse {
	return OrderJSONResponse{
		ID:          order.ListingID,
		Name:        order.Data.Name,
		Seller:      order.Data.Seller,
		Buyer:       order.Data.Buyer,
		Price:       order.Data.Price,
		BuyFee:      order.Data.BuyFee,
		Escrow:      order.Data.Escrow,
		City:        order.Data.Address.City,
		Street:      order.Data.Address.Street,
		Zip:         order.Data.Address.Zip,
		Status:      string(order.Data.Status),
		PostalStamp: order.Data.PostalStamp,
		PurchasedAt: order.Data.PurchasedAt,
		UpdatedAt:   order.Data.UpdatedAt,
	}
}

func (h *handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.service.GetOrders(r.Context(), userCode(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ordersJSON := make([]OrderJSONResponse, 0, len(orders))
	for _, order := range orders {
		ordersJSON = append(ordersJSON, orderJSON(order))
	}
	h.writeJSON(w, http.StatusOK, ordersJSON)
}

type TicketJSONResponse struct {
	ID   uint64 `json:"id"`
	Role string `json:"role"`
}

func (h *handler) GetTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.service.GetTickets(r.Context(), userCode(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if len(tickets) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ticketsJSON := make([]TicketJSONResponse, 0, len(tickets))
	for _, ticket := range tickets {
		ticketsJSON = append(ticketsJSON, TicketJSONResponse{ID: ticket.ID, Role: string(ticket.Role)})
	}
	h.writeJSON(w, http.StatusOK, ticketsJSON)
}

type SellerJSONResponse struct {
	Account      string    `json:"account"`
	BadgeID      uint64    `json:"badge_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

func (h *handler) RegisterAsSeller(w http.ResponseWriter, r *http.Request) {
	credential, err := h.service.RegisterAsSeller(r.Context(), userCode(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, SellerJSONResponse{
		Account:      credential.Account,
		BadgeID:      credential.BadgeID,
		RegisteredAt: credential.RegisteredAt,
	})
}

type ListProductJSONRequest struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Fee   decimal.Decimal `json:"fee"`
}

type ListingJSONResponse struct {
	ID       uint64          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	ListedAt time.Time       `json:"listed_at"`
}

func (h *handler) ListProduct(w http.ResponseWriter, r *http.Request) {
	var request ListProductJSONRequest
	err := readJSON(r, &request)
	if err != nil {
		h.writeError(w, err)
		return
	}

	listing, err := h.service.ListProduct(r.Context(), userCode(r), request.Name, request.Price, request.Fee)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, ListingJSONResponse{
		ID:       listing.ID,
		Name:     listing.Data.Name,
		Price:    listing.Data.Price,
		Currency: listing.Data.Currency,
		ListedAt: listing.Data.ListedAt,
	})
}

type CollectJSONResponse struct {
	Collected decimal.Decimal `json:"collected"`
}

func (h *handler) CollectBySeller(w http.ResponseWriter, r *http.Request) {
	collected, err := h.service.CollectBySeller(r.Context(), userCode(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, CollectJSONResponse{Collected: collected})
}

func (h *handler) GetAvailableProducts(w http.ResponseWriter, r *http.Request) {
	var pageIndex uint64
	if page := r.URL.Query().Get("page"); page != "" {
		var err error
		pageIndex, err = strconv.ParseUint(page, 10, 32)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	products, err := h.service.GetAvailableProducts(r.Context(), uint32(pageIndex))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(products))
}

type BuyProductJSONRequest struct {
	City    string          `json:"city"`
	Street  string          `json:"street"`
	Zip     string          `json:"zip"`
	Payment decimal.Decimal `json:"payment"`
}

func (h *handler) BuyProduct(w http.ResponseWriter, r *http.Request) {
	listingID, err := pathID(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var request BuyProductJSONRequest
	err = readJSON(r, &request)
	if err != nil {
		h.writeError(w, err)
		return
	}

	address := model.ShippingAddress{City: request.City, Street: request.Street, Zip: request.Zip}
	order, err := h.service.BuyProduct(r.Context(), userCode(r), listingID, address, request.Payment)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, orderJSON(order))
}

// orderStep обслуживает шаги исполнения заказа по билету из пути запроса
func (h *handler) orderStep(step func(ctx context.Context, caller string, ticketID uint64) (model.Order, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ticketID, err := pathID(r)
		if err != nil {
			h.writeError(w, err)
			return
		}
		order, err := step(r.Context(), userCode(r), ticketID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		h.writeJSON(w, http.StatusOK, orderJSON(order))
	}
}

func (h *handler) CollectPostalStamp(w http.ResponseWriter, r *http.Request) {
	h.orderStep(h.service.CollectPostalStamp)(w, r)
}

func (h *handler) SendProduct(w http.ResponseWriter, r *http.Request) {
	h.orderStep(h.service.SendProduct)(w, r)
}

func (h *handler) ConfirmReception(w http.ResponseWriter, r *http.Request) {
	h.orderStep(h.service.ConfirmReception)(w, r)
}

func (h *handler) CollectByAdmin(w http.ResponseWriter, r *http.Request) {
	collected, err := h.service.CollectByAdmin(r.Context(), userCode(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, CollectJSONResponse{Collected: collected})
}

type FeePoolJSONResponse struct {
	PerSeller map[string]decimal.Decimal `json:"per_seller"`
	Operator  decimal.Decimal            `json:"operator"`
}

func (h *handler) GetFeePool(w http.ResponseWriter, r *http.Request) {
	pool, err := h.service.GetFeePool(r.Context(), userCode(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, FeePoolJSONResponse{PerSeller: pool.PerSeller, Operator: pool.Operator})
}
