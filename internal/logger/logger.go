package logger

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iurnickita/productmarket/internal/logger/config"
)

const HeaderRequestID = "X-Request-ID"

func NewZapLog(cfg config.Config) (*zap.Logger, error) {
	// преобразуем текстовый уровень логирования в zap.AtomicLevel
	lvl, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zapcfg := zap.NewProductionConfig()
	zapcfg.Level = lvl
	zl, err := zapcfg.Build()
	if err != nil {
		return nil, err
	}
	return zl, nil
}

// middleware-логер для входящих HTTP-запросов.
// Каждому запросу присваивается идентификатор, он же возвращается клиенту.
func RequestLogMdlw(h http.HandlerFunc, zaplog *zap.Logger) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, requestID)
		reqlog := zaplog.With(zap.String("request_id", requestID))

		// request body
		bodyBytes, _ := io.ReadAll(r.Body)
		r.Body.Close() //  must close
		r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		reqlog.Info("got incoming HTTP request",
			zap.String("path", r.URL.Path),
			zap.String("method", r.Method),
			zap.Int("body_length", len(bodyBytes)),
		)

		wl := newResponseWriterLogger(w)

		handlerStart := time.Now()
		h(wl, r)
		handlerDuration := time.Since(handlerStart)

		reqlog.Info("send HTTP response",
			zap.String("code", strconv.Itoa(wl.statusCode)),
			zap.String("length", strconv.Itoa(wl.length)),
			zap.String("duration", handlerDuration.String()),
		)
	})
}

type responseWriterLogger struct {
	http.ResponseWriter
	statusCode int
	length     int
}

func newResponseWriterLogger(w http.ResponseWriter) *responseWriterLogger {
	return &responseWriterLogger{w, http.StatusOK, 0}
}

func (wl *responseWriterLogger) WriteHeader(code int) {
	wl.statusCode = code
	wl.ResponseWriter.WriteHeader(code)
}

func (wl *responseWriterLogger) Write(b []byte) (n int, err error) {
	n, err = wl.ResponseWriter.Write(b)
	wl.length += n
	return
}
