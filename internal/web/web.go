package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"officegateway/auth"
	"officegateway/internal/web/api"
	"officegateway/internal/web/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Dependencies are the services the admin API fronts
type Dependencies struct {
	Auth      *auth.AuthModule
	Devices   api.DeviceReader
	Control   api.Executor
	Schedules api.ScheduleManager
	Probes    map[string]api.Probe
}

type WebServer struct {
	router *gin.Engine
	log    *zap.Logger
}

func NewWebServer(deps Dependencies, log *zap.Logger) *WebServer {
	router := gin.New()
	log = log.Named("web")

	middlewareManager := middleware.NewMiddlewareManager(deps.Auth, log)
	router.Use(gin.Recovery(), middlewareManager.RequestLogger())

	api.RegisterHealthRoutes(router, deps.Probes)
	api.RegisterAuthRoutes(router, deps.Auth, middlewareManager)
	api.RegisterDeviceRoutes(router, middlewareManager, deps.Devices, deps.Control)
	api.RegisterScheduleRoutes(router, middlewareManager, deps.Schedules)

	return &WebServer{router: router, log: log}
}

// Handler returns the router, for tests and embedding
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves on addr until ctx is cancelled
func (ws *WebServer) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: ws.router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		ws.log.Info("Admin API listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
