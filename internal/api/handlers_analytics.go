// handlers_analytics.go - Client event intake and event export
package api

import (
	"net/http"
	"regexp"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pdftools/backend/internal/analytics"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
	maxEventsPerPost  = 50
)

var eventNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,39}$`)

// AnalyticsHandlerImpl implements the AnalyticsHandler interface
type AnalyticsHandlerImpl struct {
	tracker analytics.Tracker
	reader  analytics.Reader
}

// NewAnalyticsHandler creates a new analytics handler. reader may be nil
// when no event store is configured.
func NewAnalyticsHandler(tracker analytics.Tracker, reader analytics.Reader) AnalyticsHandler {
	if tracker == nil {
		tracker = analytics.Nop{}
	}
	return &AnalyticsHandlerImpl{tracker: tracker, reader: reader}
}

// HandleTrackEvents records events reported by the browser shell
func (h *AnalyticsHandlerImpl) HandleTrackEvents(c echo.Context) error {
	var req trackEventsRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if req.Name != "" {
		req.Events = append(req.Events, clientEvent{Name: req.Name, Params: req.Params})
	}
	if err := req.validate(); err != nil {
		return err
	}

	ctx := c.Request().Context()
	for _, ev := range req.Events {
		h.tracker.Track(ctx, ev.Name, ev.Params)
	}
	return c.JSON(http.StatusAccepted, map[string]int{"accepted": len(req.Events)})
}

// HandleListEvents returns recent events as JSON or msgpack
func (h *AnalyticsHandlerImpl) HandleListEvents(c echo.Context) error {
	if h.reader == nil {
		return NewServiceUnavailableError("event store is disabled")
	}

	limit := defaultEventLimit
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return NewBadRequestError("limit must be a positive number", err)
		}
		limit = min(n, maxEventLimit)
	}

	events, err := h.reader.Recent(c.Request().Context(), limit)
	if err != nil {
		return NewInternalError("failed to read events", err)
	}

	if c.QueryParam("format") == "msgpack" {
		data, err := msgpack.Marshal(map[string]interface{}{
			"events": events,
			"total":  len(events),
		})
		if err != nil {
			return NewInternalError("failed to encode msgpack", err)
		}
		return c.Blob(http.StatusOK, "application/msgpack", data)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  len(events),
	})
}

// HandleEventCounts returns the number of recorded events per name
func (h *AnalyticsHandlerImpl) HandleEventCounts(c echo.Context) error {
	if h.reader == nil {
		return NewServiceUnavailableError("event store is disabled")
	}

	counts, err := h.reader.Counts(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to count events", err)
	}
	return c.JSON(http.StatusOK, counts)
}

type clientEvent struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params"`
}

type trackEventsRequest struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params"`
	Events []clientEvent     `json:"events"`
}

func (r *trackEventsRequest) validate() error {
	if len(r.Events) == 0 {
		return NewBadRequestError("no events given", nil)
	}
	if len(r.Events) > maxEventsPerPost {
		return NewBadRequestError("too many events in one request", nil)
	}
	for _, ev := range r.Events {
		if !eventNamePattern.MatchString(ev.Name) {
			return NewBadRequestError("invalid event name: "+ev.Name, nil)
		}
	}
	return nil
}
