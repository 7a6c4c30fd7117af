// Package server is the HTTP surface: health/ready probes plus JSON
// snapshot, metrics, and websocket fan-out endpoints for the books a
// clobbook process is tracking.
package server

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"clobbook/internal/config"
	"clobbook/internal/publisher"
	"clobbook/internal/telemetry"
)

// FiberServer wraps a fiber.App with the dependencies its routes need.
type FiberServer struct {
	*fiber.App

	publishers *publisher.Set
	metricsReg *prometheus.Registry
	log        *zap.Logger
	cfg        *config.Config
}

// New builds a FiberServer serving snapshots from publishers and metrics
// from metricsReg.
func New(publishers *publisher.Set, metricsReg *prometheus.Registry, log *zap.Logger, cfg *config.Config) *FiberServer {
	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader: "clobbook",
			AppName:      "clobbook",
		}),
		publishers: publishers,
		metricsReg: metricsReg,
		log:        log,
		cfg:        cfg,
	}
	server.registerRoutes()
	return server
}

func (s *FiberServer) registerRoutes() {
	s.Get("/healthz", s.handleHealth)
	s.Get("/readyz", s.handleReady)
	s.Get("/symbols", s.handleSymbols)
	s.Get("/books/:symbol", s.handleBookSnapshot)
	s.Get("/metrics", adaptor.HTTPHandler(telemetry.Handler(s.metricsReg)))

	s.Get("/stream/:symbol", websocket.New(s.handleStream))
}

func (s *FiberServer) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *FiberServer) handleReady(c *fiber.Ctx) error {
	if len(s.publishers.Symbols()) == 0 {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "no symbols subscribed yet"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

func (s *FiberServer) handleSymbols(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"symbols": s.publishers.Symbols()})
}

func (s *FiberServer) handleBookSnapshot(c *fiber.Ctx) error {
	symbol := c.Params("symbol")
	depth := c.QueryInt("depth", s.cfg.DefaultDepth)

	snap, ok := s.publishers.Snapshot(symbol, depth)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown symbol " + symbol})
	}
	return c.JSON(snap)
}

// handleStream pushes a fresh snapshot to the client on a fixed interval
// for as long as the connection stays open. It is a convenience for local
// dashboards; the authoritative consumer path is the snapshot API itself.
func (s *FiberServer) handleStream(c *websocket.Conn) {
	symbol := c.Params("symbol")
	defer c.Close()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		snap, ok := s.publishers.Snapshot(symbol, s.cfg.DefaultDepth)
		if !ok {
			return
		}
		if err := c.WriteJSON(snap); err != nil {
			s.log.Debug("stream client disconnected", zap.String("symbol", symbol), zap.Error(err))
			return
		}
	}
}
