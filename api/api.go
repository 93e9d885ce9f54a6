// Package api implements the HTTP front door for the aggregation service:
// browsing an analytics' aggregates and publishing resource transactions.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pulsegrid/aggregator/apperr"
	"github.com/pulsegrid/aggregator/browser"
	"github.com/pulsegrid/aggregator/common"
	"github.com/pulsegrid/aggregator/publisher"
)

// Handlers holds the service dependencies exercised by the API routes.
type Handlers struct {
	Browser   *browser.Browser
	Publisher *publisher.Publisher
}

// requestIDHeader carries the correlation ID each request is stamped
// with, echoed back so log lines for a browse/publish call can be
// traced end to end.
const requestIDHeader = "X-Request-Id"

// SetupRoutes registers the analytics query and publish endpoints on e.
func SetupRoutes(e *echo.Echo, h *Handlers) {
	e.Use(correlationID)
	e.GET("/analytics/:name/", h.browse)
	e.POST("/resource/:channel/", h.publish)
}

// correlationID stamps every request with a UUID unless the caller
// already supplied one, and echoes it back on the response.
func correlationID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Request().Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Response().Header().Set(requestIDHeader, id)
		return next(c)
	}
}

func (h *Handlers) browse(c echo.Context) error {
	name := c.Param("name")
	sliceArgs := map[string]string{}
	for k, vals := range c.QueryParams() {
		if len(vals) > 0 {
			sliceArgs[k] = vals[0]
		}
	}

	log := requestLogger(c).WithField("analytics", name)
	res, err := h.Browser.Query(c.Request().Context(), name, sliceArgs)
	if err != nil {
		log.WithError(err).Error("browse failed")
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handlers) publish(c echo.Context) error {
	channel := c.Param("channel")
	trType := c.FormValue("tr_type")
	payload := c.FormValue("payload")

	log := requestLogger(c).WithField("channel", channel).WithField("tr_type", trType)
	if err := h.Publisher.Publish(c.Request().Context(), channel, trType, json.RawMessage(payload)); err != nil {
		log.WithError(err).Error("publish failed")
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "accepted"})
}

// requestLogger builds a ContextLogger carrying the request's method,
// path, and correlation ID, for handlers to attach domain fields to.
func requestLogger(c echo.Context) *common.ContextLogger {
	req := c.Request()
	return common.RequestLogger("aggregator", req.Method, req.URL.Path, c.Response().Header().Get(requestIDHeader))
}

// errorResponse maps the apperr sentinel taxonomy onto HTTP status codes,
// which only happens at this boundary.
func errorResponse(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperr.ErrInvalidDefinition),
		errors.Is(err, apperr.ErrInvalidValue),
		errors.Is(err, apperr.ErrMissingSliceParameter),
		errors.Is(err, apperr.ErrUnknownTransactionType),
		errors.Is(err, apperr.ErrAggregateNotSupported):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrServiceUnavailable):
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, map[string]string{"error": err.Error()})
}
