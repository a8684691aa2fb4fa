package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/urska/internal/progress"
	"github.com/mohammad-safakhou/urska/internal/service"
	"github.com/mohammad-safakhou/urska/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var serverTracer trace.Tracer = otel.Tracer("urska/internal/server")

// ask streams a run's progress as Server-Sent Events. Each event is written as
// "event: update" with the JSON progress event as data. The stream ends after
// the End or Error event.
func (s *Server) ask(c echo.Context) error {
	var req service.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Objective) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "objective required")
	}
	ctx, span := serverTracer.Start(c.Request().Context(), "server.ask")
	defer span.End()

	resp := c.Response()
	flusher, ok := resp.Writer.(http.Flusher)
	if !ok {
		span.SetStatus(codes.Error, "streaming unsupported")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	flusher.Flush()

	stream := progress.NewStream(s.cfg.StreamBuffer)
	go func() {
		defer stream.Close()
		res, err := s.svc.Ask(ctx, req, stream)
		if err != nil {
			s.logger.Printf("ask %s: %v", res.RunID, err)
		}
	}()

	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := resp.Write([]byte("event: update\n")); err != nil {
				stream.Detach()
				return nil
			}
			if _, err := resp.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				stream.Detach()
				return nil
			}
			flusher.Flush()
		case <-ctx.Done():
			// the run keeps going once admitted; stop blocking it on us
			stream.Detach()
			span.SetAttributes(attribute.Bool("client.gone", true))
			return nil
		}
	}
}

func (s *Server) getRun(c echo.Context) error {
	id := c.Param("id")
	rec, err := s.svc.Run(c.Request().Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (s *Server) listRuns(c echo.Context) error {
	limit := 0
	if v := strings.TrimSpace(c.QueryParam("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	runs, err := s.svc.Runs(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) queue(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.QueueStats())
}

func (s *Server) listTools(c echo.Context) error {
	if s.tools == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{"tools": []interface{}{}})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"tools": s.tools.Tools()})
}
