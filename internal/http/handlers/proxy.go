package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/geocoder89/connecthub/internal/upstream"
	"github.com/gin-gonic/gin"
)

type Upstream interface {
	Connect(ctx context.Context) (upstream.Response, error)
	Schemas(ctx context.Context) (upstream.Response, error)
}

// ProxyHandler relays a fixed set of calls to the upstream API. Replies are
// returned with the upstream's own status and body.
type ProxyHandler struct {
	upstream Upstream
}

func NewProxyHandler(u Upstream) *ProxyHandler {
	return &ProxyHandler{upstream: u}
}

func (h *ProxyHandler) Connect(ctx *gin.Context) {
	h.relay(ctx, "connect", h.upstream.Connect)
}

func (h *ProxyHandler) Schemas(ctx *gin.Context) {
	h.relay(ctx, "schemas", h.upstream.Schemas)
}

func (h *ProxyHandler) relay(ctx *gin.Context, op string, call func(context.Context) (upstream.Response, error)) {
	res, err := call(ctx.Request.Context())
	if err != nil {
		slog.Default().WarnContext(ctx.Request.Context(), "upstream call failed", "op", op, "err", err)

		if errors.Is(err, upstream.ErrUnavailable) {
			RespondError(ctx, http.StatusBadGateway, "upstream_unavailable", "Upstream service is unavailable", nil)
			return
		}
		RespondInternal(ctx, "Internal server error")
		return
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = "application/json"
	}

	ctx.Data(res.StatusCode, contentType, res.Body)
}
