package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/labstack/echo/v5"
	"go.uber.org/zap"

	"github.com/matfraga/papo/internal/api"
	"github.com/matfraga/papo/internal/profile"
)

// Server serves the control API over the profile's Unix domain socket.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer binds the control API to the profile's socket. A stale socket
// file from a crashed daemon is removed; a live one is protected by the
// profile lock acquired before this runs.
func NewServer(p Params, logger *zap.Logger, svc *api.Service) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.Profile)
	}

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

	e := echo.New()
	svc.Register(e)

	return &Server{
		echo:       e,
		httpServer: &http.Server{Handler: e},
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving control requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	if err := s.httpServer.Serve(s.listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("control server shutdown", zap.Error(err))
	}
	_ = os.Remove(s.socketPath)
}
