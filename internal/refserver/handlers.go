package refserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Adrian3strada/djappiffy-railway-sub000/internal/refdata"
)

// Source is the fixture storage behind the server. Implemented by store.Store.
type Source interface {
	refdata.FixtureSource
	Ping(ctx context.Context) error
}

// Handlers holds the HTTP handlers.
type Handlers struct {
	src    Source
	logger *slog.Logger
}

// NewHandlers creates handlers over src.
func NewHandlers(src Source, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{src: src, logger: logger}
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error    string `json:"error"`
	Endpoint string `json:"endpoint,omitempty"`
	Query    string `json:"query,omitempty"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HandleReference handles GET /api/*path.
//
// Response:
//
//	200 OK: the stored JSON body
//	400 Bad Request: malformed query string
//	404 Not Found: no fixture for (endpoint, query)
//	500 Internal Server Error: store failure
func (h *Handlers) HandleReference(c *gin.Context) {
	endpoint := "/api" + c.Param("path")

	params, err := refdata.ParseQuery(c.Request.URL.RawQuery)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Endpoint: endpoint})
		return
	}
	query := refdata.Request{Endpoint: endpoint, Params: params}.Query()

	body, found, err := h.src.ReadReference(c.Request.Context(), endpoint, query)
	if err != nil {
		h.logger.Error("reference read failed", "endpoint", endpoint, "query", query, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "reference store unavailable", Endpoint: endpoint, Query: query})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found", Endpoint: endpoint, Query: query})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// HandleHealth handles GET /healthz. Returns 503 when the store is unreachable.
func (h *Handlers) HandleHealth(c *gin.Context) {
	if err := h.src.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy"})
}
