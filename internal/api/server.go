package api

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// DefaultOrigins are the browser origins allowed to call the API.
var DefaultOrigins = []string{
	"https://bank-ai-react-assistant.vercel.app",
	"http://localhost:5173",
	"http://localhost:3000",
}

// NewServer returns an echo server with the middleware stack and the
// handler's routes registered.
func NewServer(h *Handler, origins []string) *echo.Echo {
	if len(origins) == 0 {
		origins = DefaultOrigins
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowCredentials: true,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				slog.Warn("http request", append(attrs, "error", v.Error)...)
				return nil
			}
			slog.Debug("http request", attrs...)
			return nil
		},
	}))

	h.RegisterRoutes(e)
	return e
}
