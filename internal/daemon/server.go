package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/classline/classline/internal/client"
	"github.com/classline/classline/internal/model"
	"github.com/classline/classline/internal/session"
	"github.com/classline/classline/internal/store"
)

// Server exposes the facade over HTTP on the session's Unix domain socket.
// Only chatctl (and tests) talk to it; it is never reachable off-host.
type Server struct {
	app        *fiber.App
	listener   net.Listener
	socketPath string
	client     *client.Client
	db         *store.DB
	logger     *zap.Logger
}

type statusResponse struct {
	Session         string `json:"session"`
	State           string `json:"state"`
	Blocked         bool   `json:"blocked"`
	Network         string `json:"network"`
	Server          string `json:"server"`
	LastConnectedAt int64  `json:"lastConnectedAt"` // unix millis, 0 = never
}

type sendRequest struct {
	Body string `json:"body"`
}

type broadcastRequest struct {
	Body string `json:"body"`
	Kind string `json:"kind"`
}

// NewServer creates the control server bound to the session socket.
func NewServer(p Params, c *client.Client, db *store.DB, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := &Server{
		listener:   listener,
		socketPath: socketPath,
		client:     c,
		db:         db,
		logger:     logger,
	}
	srv.app = srv.buildApp(p.SessionName)
	return srv, nil
}

func (s *Server) buildApp(sessionName string) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Get("/status", func(ctx *fiber.Ctx) error {
		gate := s.client.Gate()
		return ctx.JSON(statusResponse{
			Session:         sessionName,
			State:           string(s.client.State()),
			Blocked:         gate.Blocked,
			Network:         string(gate.Network),
			Server:          string(gate.Server),
			LastConnectedAt: lastConnectedAt(s.db),
		})
	})

	app.Post("/retry", func(ctx *fiber.Ctx) error {
		s.client.RetryConnection()
		return ctx.SendStatus(fiber.StatusAccepted)
	})

	app.Post("/foreground", func(ctx *fiber.Ctx) error {
		s.client.Foreground()
		return ctx.SendStatus(fiber.StatusAccepted)
	})

	app.Post("/force-reconnect", func(ctx *fiber.Ctx) error {
		s.client.ForceReconnect()
		return ctx.SendStatus(fiber.StatusAccepted)
	})

	app.Post("/broadcast", func(ctx *fiber.Ctx) error {
		var req broadcastRequest
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		kind := model.Kind(req.Kind)
		if kind == "" {
			kind = model.KindText
		}
		res, err := s.client.Broadcast(ctx.Context(), req.Body, kind)
		if err != nil {
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}
		return ctx.JSON(fiber.Map{
			"successCount":  res.SuccessCount,
			"totalStudents": res.TotalStudents,
			"summary":       res.Summary(),
		})
	})

	app.Get("/rooms", func(ctx *fiber.Ctx) error {
		return ctx.JSON(s.client.Rooms())
	})

	rooms := app.Group("/rooms/:id")

	rooms.Get("/messages", func(ctx *fiber.Ctx) error {
		return ctx.JSON(s.client.Messages(ctx.Params("id")))
	})

	rooms.Post("/messages", func(ctx *fiber.Ctx) error {
		var req sendRequest
		if err := ctx.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		msg, err := s.client.Send(ctx.Params("id"), req.Body)
		if err != nil {
			if errors.Is(err, client.ErrNotConnected) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return ctx.Status(fiber.StatusAccepted).JSON(msg)
	})

	rooms.Post("/join", func(ctx *fiber.Ctx) error {
		if err := s.client.Join(ctx.Params("id")); err != nil {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		return ctx.SendStatus(fiber.StatusAccepted)
	})

	rooms.Post("/leave", func(ctx *fiber.Ctx) error {
		s.client.Leave(ctx.Params("id"))
		return ctx.SendStatus(fiber.StatusAccepted)
	})

	rooms.Post("/typing", func(ctx *fiber.Ctx) error {
		s.client.SendTyping(ctx.Params("id"))
		return ctx.SendStatus(fiber.StatusAccepted)
	})

	rooms.Post("/read", func(ctx *fiber.Ctx) error {
		s.client.MarkRead(ctx.Params("id"))
		return ctx.SendStatus(fiber.StatusAccepted)
	})

	rooms.Post("/pin", func(ctx *fiber.Ctx) error {
		pinned, err := s.client.TogglePin(ctx.Params("id"))
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return ctx.JSON(fiber.Map{"pinned": pinned})
	})

	return app
}

// Start begins serving control requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	return s.app.Listener(s.listener)
}

// Stop shuts the server down and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("control server stopping")
	_ = s.app.Shutdown()
	_ = os.Remove(s.socketPath)
}
