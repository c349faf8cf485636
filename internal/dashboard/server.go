// Package dashboard serves read-only JSON views of the quote store and ledger.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"arbscope/internal/model"
)

const (
	statusOK           = "ok"
	statusInsufficient = "insufficient data"
	shutdownTimeout    = 5 * time.Second
)

type QuoteReader interface {
	Snapshot(symbol string) map[string]model.Quote
}

type LedgerReader interface {
	Symbols() []string
	RecentWindow(symbol string, n int) []model.ProfitSample
	RecentWallet(n int) []model.WalletSample
	Latest(symbol string) (model.ProfitSample, bool)
	WalletValue() float64
}

// StatusFunc reports feed states keyed by exchange.
type StatusFunc func() map[string]string

// Settings configures the HTTP surface. A symbol whose latest sample is older than
// StaleAfter reports insufficient data; zero disables the check.
type Settings struct {
	Addr         string
	RecentWindow int
	StaleAfter   time.Duration
}

type Server struct {
	logger   *slog.Logger
	settings Settings
	quotes   QuoteReader
	ledger   LedgerReader
	history  *History
	status   StatusFunc
	metrics  http.Handler
	now      func() time.Time
}

func NewServer(logger *slog.Logger, settings Settings, quotes QuoteReader, ledger LedgerReader, history *History, status StatusFunc, metrics http.Handler) *Server {
	return &Server{
		logger:   logger,
		settings: settings,
		quotes:   quotes,
		ledger:   ledger,
		history:  history,
		status:   status,
		metrics:  metrics,
		now:      time.Now,
	}
}

type quoteView struct {
	Bid        *float64  `json:"bid"`
	Ask        *float64  `json:"ask"`
	ObservedAt time.Time `json:"observed_at"`
}

type quotesResponse struct {
	Symbol string               `json:"symbol"`
	Status string               `json:"status"`
	Quotes map[string]quoteView `json:"quotes"`
}

type profitView struct {
	Timestamp    time.Time `json:"time"`
	NetProfit    float64   `json:"profit"`
	GrossSpread  float64   `json:"spread"`
	BuyExchange  string    `json:"buy_exchange"`
	SellExchange string    `json:"sell_exchange"`
}

type profitsResponse struct {
	Symbol  string       `json:"symbol"`
	Status  string       `json:"status"`
	Samples []profitView `json:"samples"`
}

type walletView struct {
	Timestamp time.Time `json:"time"`
	Value     float64   `json:"value"`
}

type walletResponse struct {
	Status  string       `json:"status"`
	Value   float64      `json:"value"`
	Samples []walletView `json:"samples"`
}

type pointView struct {
	Timestamp time.Time `json:"time"`
	Bid       *float64  `json:"bid"`
	Ask       *float64  `json:"ask"`
}

type historyResponse struct {
	Symbol string                 `json:"symbol"`
	Status string                 `json:"status"`
	Series map[string][]pointView `json:"series"`
}

type statusResponse struct {
	Feeds   map[string]string `json:"feeds"`
	Symbols map[string]string `json:"symbols"`
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/quotes", s.handleQuotes)
	if s.history != nil {
		mux.HandleFunc("GET /api/quotes/history", s.handleHistory)
	}
	mux.HandleFunc("GET /api/profits", s.handleProfits)
	mux.HandleFunc("GET /api/wallet", s.handleWallet)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.settings.Addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Dashboard listening", "addr", s.settings.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) symbol(w http.ResponseWriter, r *http.Request) (string, bool) {
	symbol := r.URL.Query().Get("symbol")
	if !slices.Contains(s.ledger.Symbols(), symbol) {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return "", false
	}
	return symbol, true
}

func (s *Server) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("n")
	if raw == "" {
		return s.settings.RecentWindow, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		http.Error(w, "n must be a positive integer", http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func (s *Server) handleQuotes(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.symbol(w, r)
	if !ok {
		return
	}
	snap := s.quotes.Snapshot(symbol)
	resp := quotesResponse{Symbol: symbol, Status: statusOK, Quotes: make(map[string]quoteView, len(snap))}
	for ex, q := range snap {
		v := quoteView{ObservedAt: q.ObservedAt}
		v.Bid, v.Ask = optional(q.Bid), optional(q.Ask)
		resp.Quotes[ex] = v
	}
	if len(snap) == 0 {
		resp.Status = statusInsufficient
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleProfits(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.symbol(w, r)
	if !ok {
		return
	}
	n, ok := s.limit(w, r)
	if !ok {
		return
	}
	samples := s.ledger.RecentWindow(symbol, n)
	resp := profitsResponse{Symbol: symbol, Status: statusOK, Samples: make([]profitView, 0, len(samples))}
	for _, p := range samples {
		resp.Samples = append(resp.Samples, profitView{
			Timestamp:    p.Timestamp,
			NetProfit:    p.NetProfit,
			GrossSpread:  p.GrossSpread,
			BuyExchange:  p.BuyExchange,
			SellExchange: p.SellExchange,
		})
	}
	if !s.fresh(symbol) {
		resp.Status = statusInsufficient
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol, ok := s.symbol(w, r)
	if !ok {
		return
	}
	series := s.history.Series(symbol)
	resp := historyResponse{Symbol: symbol, Status: statusOK, Series: make(map[string][]pointView, len(series))}
	for ex, points := range series {
		views := make([]pointView, 0, len(points))
		for _, p := range points {
			views = append(views, pointView{Timestamp: p.At, Bid: optional(p.Bid), Ask: optional(p.Ask)})
		}
		resp.Series[ex] = views
	}
	if len(series) == 0 {
		resp.Status = statusInsufficient
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	n, ok := s.limit(w, r)
	if !ok {
		return
	}
	samples := s.ledger.RecentWallet(n)
	resp := walletResponse{Status: statusOK, Value: s.ledger.WalletValue(), Samples: make([]walletView, 0, len(samples))}
	for _, ws := range samples {
		resp.Samples = append(resp.Samples, walletView{Timestamp: ws.Timestamp, Value: ws.Value})
	}
	if len(samples) == 0 {
		resp.Status = statusInsufficient
	}
	s.writeJSON(w, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Feeds: map[string]string{}, Symbols: map[string]string{}}
	if s.status != nil {
		resp.Feeds = s.status()
	}
	for _, sym := range s.ledger.Symbols() {
		if s.fresh(sym) {
			resp.Symbols[sym] = statusOK
		} else {
			resp.Symbols[sym] = statusInsufficient
		}
	}
	s.writeJSON(w, resp)
}

// fresh reports whether symbol has a sample recent enough to count as current.
func (s *Server) fresh(symbol string) bool {
	latest, ok := s.ledger.Latest(symbol)
	if !ok {
		return false
	}
	return s.settings.StaleAfter <= 0 || s.now().Sub(latest.Timestamp) <= s.settings.StaleAfter
}

func optional(p model.Price) *float64 {
	if !p.Valid {
		return nil
	}
	v := p.Value
	return &v
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
