package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/iurnickita/productmarket/internal/auth/config"
	"github.com/iurnickita/productmarket/internal/store"
	"github.com/iurnickita/productmarket/internal/token"
)

type Auth interface {
	Register(w http.ResponseWriter, r *http.Request)
	Login(w http.ResponseWriter, r *http.Request)
	Middleware(h http.HandlerFunc) http.HandlerFunc
	// EnsureUser регистрирует пользователя, если его еще нет
	EnsureUser(ctx context.Context, login string, password string) (string, error)
}

// AccountOpener открывает счет нового пользователя
type AccountOpener interface {
	OpenAccount(ctx context.Context, account string) error
}

const (
	HeaderUserCodeKey = "X-User-Code"
	CookieUserToken   = "productmarketUserToken"
)

var (
	ErrInvalidCredentials = errors.New("invalid login or password")
	ErrUnauthorized       = errors.New("unauthorized")
)

type auth struct {
	cfg    config.Config
	store  store.Store
	opener AccountOpener
	zaplog *zap.Logger
}

func NewAuth(cfg config.Config, store store.Store, opener AccountOpener, zaplog *zap.Logger) Auth {
	return &auth{cfg: cfg, store: store, opener: opener, zaplog: zaplog}
}

type credentialsJSONRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

func readCredentials(r *http.Request) (credentialsJSONRequest, error) {
	var credentials credentialsJSONRequest
	err := json.NewDecoder(r.Body).Decode(&credentials)
	if err != nil {
		return credentialsJSONRequest{}, err
	}
	if credentials.Login == "" || credentials.Password == "" {
		return credentialsJSONRequest{}, ErrInvalidCredentials
	}
	return credentials, nil
}

func (a *auth) register(ctx context.Context, login string, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	userCode, err := a.store.AuthRegister(ctx, login, string(hash))
	if err != nil {
		return "", err
	}
	err = a.opener.OpenAccount(ctx, userCode)
	if err != nil {
		// без счета логин не нужен: освобождаем его для повторной регистрации
		if delErr := a.store.AuthDelete(ctx, login); delErr != nil {
			a.zaplog.Error("auth rollback failed", zap.String("login", login), zap.Error(delErr))
		}
		return "", err
	}
	return userCode, nil
}

func (a *auth) Register(w http.ResponseWriter, r *http.Request) {
	credentials, err := readCredentials(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	userCode, err := a.register(r.Context(), credentials.Login, credentials.Password)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrAlreadyExists):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, bcrypt.ErrPasswordTooLong):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			a.zaplog.Error("user registration failed", zap.Error(err))
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	a.setToken(w, userCode)
}

func (a *auth) login(ctx context.Context, login string, password string) (string, error) {
	userCode, hash, err := a.store.AuthLogin(ctx, login)
	if err != nil {
		if errors.Is(err, store.ErrNoRows) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil {
		return "", ErrInvalidCredentials
	}
	return userCode, nil
}

func (a *auth) Login(w http.ResponseWriter, r *http.Request) {
	credentials, err := readCredentials(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	userCode, err := a.login(r.Context(), credentials.Login, credentials.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	a.setToken(w, userCode)
}

func (a *auth) EnsureUser(ctx context.Context, login string, password string) (string, error) {
	userCode, err := a.login(ctx, login, password)
	if err == nil {
		return userCode, nil
	}
	if !errors.Is(err, ErrInvalidCredentials) {
		return "", err
	}
	// пользователь есть, но пароль не подходит
	_, _, err = a.store.AuthLogin(ctx, login)
	if err == nil {
		return "", ErrInvalidCredentials
	}
	return a.register(ctx, login, password)
}

func (a *auth) setToken(w http.ResponseWriter, userCode string) {
	tokenString, err := token.BuildJWTString(userCode, a.cfg.TokenSecret, a.cfg.TokenTTL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieUserToken,
		Value:    tokenString,
		Path:     "/",
		HttpOnly: true,
	})
	w.Header().Set("Authorization", "Bearer "+tokenString)
	w.WriteHeader(http.StatusOK)
}

func (a *auth) Middleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// получение id пользователя
		userCode, err := a.getUserCode(r)
		if err != nil {
			http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}

		// записываем
		r.Header.Set(HeaderUserCodeKey, userCode)

		// передаём управление хендлеру
		h.ServeHTTP(w, r)
	}
}

// getUserCode читает токен из куки, а при ее отсутствии из заголовка Authorization
func (a *auth) getUserCode(r *http.Request) (string, error) {
	var tokenString string
	tokenCookie, err := r.Cookie(CookieUserToken)
	if err == nil {
		tokenString = tokenCookie.Value
	} else {
		tokenString = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	if tokenString == "" {
		return "", ErrUnauthorized
	}
	return token.GetUserCode(tokenString, a.cfg.TokenSecret)
}
