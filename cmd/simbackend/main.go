// Command simbackend is a stand-in for the real simulation backend: it speaks
// the same health and control surface so simgate can be exercised end to end
// without the heavyweight engine. --ready-delay simulates slow warmup and
// --fail a backend that never becomes healthy.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	var (
		headless   = flag.Bool("headless", false, "run without a UI (always true here)")
		port       = flag.Int("port", 8080, "HTTP listen port")
		readyDelay = flag.Duration("ready-delay", 0, "report unhealthy for this long after start")
		fail       = flag.Bool("fail", false, "never report healthy")
	)
	flag.Parse()
	_ = *headless

	startedAt := time.Now()
	var running atomic.Bool
	running.Store(true)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/api/health", func(c echo.Context) error {
		if *fail || time.Since(startedAt) < *readyDelay {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "starting"})
		}
		return c.JSON(http.StatusOK, map[string]any{"status": "ok", "uptime": time.Since(startedAt).String()})
	})

	e.GET("/status", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"name":    "simbackend",
			"uptime":  time.Since(startedAt).String(),
			"running": running.Load(),
		})
	})

	e.GET("/api/simulation/state", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"running":    running.Load(),
			"sim_time":   time.Since(startedAt).Seconds(),
			"started_at": startedAt.UTC(),
		})
	})

	e.POST("/api/simulation/pause", func(c echo.Context) error {
		running.Store(false)
		return c.JSON(http.StatusOK, map[string]any{"running": false})
	})

	e.POST("/api/simulation/resume", func(c echo.Context) error {
		running.Store(true)
		return c.JSON(http.StatusOK, map[string]any{"running": true})
	})

	log.Printf("simbackend listening on :%d (ready after %v)", *port, *readyDelay)
	if err := e.Start(fmt.Sprintf(":%d", *port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
