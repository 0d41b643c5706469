package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"trading-console/internal/bracket"
	"trading-console/internal/correlation"
	"trading-console/internal/gateway"
	"trading-console/internal/order"
	"trading-console/pkg/exchanges/ib"
)

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// fail maps a session error onto an HTTP response. A partial bracket is
// checked first because it also unwraps to the child's venue error.
func (s *Server) fail(c *gin.Context, err error) {
	var (
		partial *bracket.PartialBracketError
		apiErr  *ib.APIError
	)
	switch {
	case errors.As(err, &partial):
		c.JSON(http.StatusBadGateway, gin.H{
			"code":      "PARTIAL_BRACKET",
			"error":     err.Error(),
			"parent_id": partial.ParentID,
		})
	case errors.Is(err, gateway.ErrInvalidArgument),
		errors.Is(err, order.ErrInvalidOrder),
		errors.Is(err, bracket.ErrInvalidRequest),
		errors.Is(err, bracket.ErrLimitPriceRequired):
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, gateway.ErrContractNotFound):
		respondError(c, http.StatusNotFound, "CONTRACT_NOT_FOUND", err.Error())
	case errors.Is(err, gateway.ErrAmbiguousContract):
		respondError(c, http.StatusConflict, "AMBIGUOUS_CONTRACT", err.Error())
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"code":       "VENUE_ERROR",
			"error":      apiErr.Message,
			"venue_code": apiErr.Code,
		})
	case errors.Is(err, gateway.ErrNotConnected),
		errors.Is(err, order.ErrHandshakePending),
		errors.Is(err, correlation.ErrDisconnected),
		errors.Is(err, ib.ErrClosed):
		respondError(c, http.StatusServiceUnavailable, "NOT_CONNECTED", err.Error())
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, correlation.ErrCancelled):
		respondError(c, http.StatusGatewayTimeout, "TIMEOUT", err.Error())
	default:
		s.log.Error("request_failed", zap.String("path", c.FullPath()), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}
