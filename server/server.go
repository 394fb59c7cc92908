package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gofish2020/easyqueue"
	"github.com/gofish2020/easyqueue/metrics"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-Id"

// Broker is the queue surface the HTTP API needs. *easyqueue.Registry implements it.
type Broker interface {
	Subscribe(topic, name string) error
	Unsubscribe(topic, name string) error
	Publish(topic string, data io.Reader) error
	Get(topic, name string) (*easyqueue.Message, bool, error)
}

type Options struct {
	// 单条消息的最大字节数
	MaxPayload int64
	// snowflake 节点号，用于生成请求id
	NodeID int64
	Logger *zap.Logger
}

type Server struct {
	broker Broker
	option Options
	logger *zap.Logger
	node   *snowflake.Node

	router *mux.Router
	srv    *http.Server
	lis    net.Listener
}

func New(broker Broker, option Options) (*Server, error) {
	if option.Logger == nil {
		option.Logger = zap.NewNop()
	}
	node, err := snowflake.NewNode(option.NodeID)
	if err != nil {
		return nil, errors.Wrapf(err, "snowflake.NewNode(%d)", option.NodeID)
	}

	s := &Server{
		broker: broker,
		option: option,
		logger: option.Logger.Named("http"),
		node:   node,
		router: mux.NewRouter(),
	}
	s.router.Use(s.observe)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/{topic}", s.handlePublish).Methods(http.MethodPost)
	s.router.HandleFunc("/{topic}/{consumer}", s.handleSubscribe).Methods(http.MethodPost)
	s.router.HandleFunc("/{topic}/{consumer}", s.handleUnsubscribe).Methods(http.MethodDelete)
	s.router.HandleFunc("/{topic}/{consumer}", s.handleGet).Methods(http.MethodGet)

	s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("listening", zap.String("addr", l.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(cctx); err != nil {
			s.logger.Warn("shutdown", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// observe 给每个请求分配id，记录日志和指标
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := s.node.Generate().String()
		w.Header().Set(requestIDHeader, id)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		s.logger.Debug("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.code),
			zap.Duration("elapsed", elapsed))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "ok\n")
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.broker.Subscribe(vars["topic"], vars["consumer"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.broker.Unsubscribe(vars["topic"], vars["consumer"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	body := io.Reader(r.Body)
	if s.option.MaxPayload > 0 {
		body = http.MaxBytesReader(w, r.Body, s.option.MaxPayload)
	}
	if err := s.broker.Publish(mux.Vars(r)["topic"], body); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	msg, ok, err := s.broker.Get(vars["topic"], vars["consumer"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	defer msg.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatUint(msg.Size, 10))
	w.WriteHeader(http.StatusOK)
	// 游标已经前移，写失败消息就丢了
	if _, err := io.Copy(w, msg); err != nil {
		s.logger.Warn("failed to send message",
			zap.String("request_id", w.Header().Get(requestIDHeader)),
			zap.Uint64("lsn", msg.LSN),
			zap.Error(err))
	}
}

func statusCode(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, easyqueue.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, easyqueue.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, easyqueue.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", w.Header().Get(requestIDHeader)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		http.Error(w, http.StatusText(code), code)
		return
	}
	http.Error(w, err.Error(), code)
}
