// Package api implements the local Read API: a consistent point-in-time
// view of each symbol's reconstructed book, and the set of known
// symbols split by initialization state.
package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/BullionBear/depthkeeper/internal/reconstructor"
)

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Handler wires the Manager's books onto gin routes.
type Handler struct {
	mgr *reconstructor.Manager
}

// NewHandler builds a Handler over mgr.
func NewHandler(mgr *reconstructor.Manager) *Handler {
	return &Handler{mgr: mgr}
}

// Register mounts the Read API routes onto rg.
func (h *Handler) Register(rg gin.IRouter) {
	rg.GET("/orderbooks/:symbol", h.getOrderBook)
	rg.GET("/symbols", h.getSymbols)
	rg.GET("/healthz", h.getHealthz)
}

// OrderBookResponse is the 200 body of GET /orderbooks/{symbol}.
type OrderBookResponse struct {
	Symbol       string            `json:"symbol"`
	Bids         map[string]string `json:"bids"`
	Asks         map[string]string `json:"asks"`
	LastUpdateID int64             `json:"lastUpdateId"`
	LastU        int64             `json:"last_u"`
}

// ErrorResponse is the body of every non-200 Read API response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SymbolsResponse is the body of GET /symbols.
type SymbolsResponse struct {
	Symbols     []string `json:"symbols"`
	Initialized []string `json:"initialized"`
	Pending     []string `json:"pending"`
}

// getOrderBook returns a symbol's reconstructed book.
//
// @Summary Get a symbol's reconstructed order book
// @Description Returns a consistent point-in-time view of bids/asks for an allow-listed symbol
// @Produce json
// @Param symbol path string true "Symbol, e.g. BTCUSDT"
// @Param depth query int false "Truncate each side to the best N levels; omitted or 0 returns the full book"
// @Success 200 {object} OrderBookResponse
// @Failure 404 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /orderbooks/{symbol} [get]
func (h *Handler) getOrderBook(c *gin.Context) {
	symbol := normalizeSymbol(c.Param("symbol"))

	b, ok := h.mgr.Book(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "Símbolo no monitoreado"})
		return
	}

	depth, _ := strconv.Atoi(c.Query("depth"))
	view := b.ViewDepth(depth)
	if !view.Initialized {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "Order book aún no inicializado"})
		return
	}

	c.JSON(http.StatusOK, OrderBookResponse{
		Symbol:       view.Symbol,
		Bids:         view.Bids,
		Asks:         view.Asks,
		LastUpdateID: view.LastUpdateID,
		LastU:        view.LastU,
	})
}

// getSymbols returns the full allow-list split by initialization state.
//
// @Summary List monitored symbols
// @Description Returns every allow-listed symbol, split into initialized and pending
// @Produce json
// @Success 200 {object} SymbolsResponse
// @Router /symbols [get]
func (h *Handler) getSymbols(c *gin.Context) {
	symbols := h.mgr.Symbols()
	resp := SymbolsResponse{
		Symbols:     symbols,
		Initialized: make([]string, 0, len(symbols)),
		Pending:     make([]string, 0, len(symbols)),
	}
	for _, s := range symbols {
		b, ok := h.mgr.Book(s)
		if !ok {
			continue
		}
		if b.IsInitialized() {
			resp.Initialized = append(resp.Initialized, s)
		} else {
			resp.Pending = append(resp.Pending, s)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// getHealthz is a liveness probe distinct from per-symbol readiness;
// it reports 200 as long as the process is serving requests at all.
func (h *Handler) getHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
