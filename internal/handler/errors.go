package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/abdusco/qrlinks/internal"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// StatusFor maps an application error kind to its HTTP status.
func StatusFor(kind internal.Kind) int {
	switch kind {
	case internal.KindValidation:
		return http.StatusBadRequest
	case internal.KindNotFound:
		return http.StatusNotFound
	case internal.KindForbidden:
		return http.StatusForbidden
	case internal.KindConflict:
		return http.StatusConflict
	case internal.KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders every error as {"error": ..., "code": ...} plus the
// error's extra fields.
func ErrorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	body := map[string]any{
		"error": "internal server error",
		"code":  "internal_error",
	}

	var appErr *internal.Error
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		code = StatusFor(appErr.Kind)
		if appErr.Code == internal.ErrUnauthorized.Code {
			code = http.StatusUnauthorized
		}
		body["error"] = appErr.Message
		body["code"] = appErr.Code
		for k, v := range appErr.Fields {
			body[k] = v
		}
	case errors.As(err, &httpErr):
		code = httpErr.Code
		body["code"] = strings.ReplaceAll(strings.ToLower(http.StatusText(code)), " ", "_")
		if msg, ok := httpErr.Message.(string); ok {
			body["error"] = msg
		} else {
			body["error"] = strings.ToLower(http.StatusText(code))
		}
	}

	event := log.Warn()
	if code >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.
		Int("code", code).
		Str("method", c.Request().Method).
		Str("path", c.Request().URL.Path).
		Err(err).
		Msg("http error")

	if c.Response().Committed {
		return
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, body)
}

func paramID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, internal.Validation("id must be a positive integer")
	}
	return id, nil
}
