package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"officegateway/auth"
	"officegateway/internal/cache"
	"officegateway/internal/cloudbridge"
	"officegateway/internal/config"
	"officegateway/internal/correlation"
	"officegateway/internal/db"
	"officegateway/internal/discovery"
	"officegateway/internal/eventbus"
	"officegateway/internal/history"
	"officegateway/internal/localbridge"
	"officegateway/internal/models"
	"officegateway/internal/mqtt"
	"officegateway/internal/redis"
	"officegateway/internal/scheduler"
	"officegateway/internal/services"
	"officegateway/internal/taskqueue"
	"officegateway/internal/utils"
	"officegateway/internal/web"
	"officegateway/internal/web/api"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// backend sends status writes through the task queue and everything else
// straight to the database
type backend struct {
	*db.DB
	status *taskqueue.StatusQueue
}

func (b backend) SetDeviceStatus(ctx context.Context, id int, status models.DeviceStatus) error {
	return b.status.SetDeviceStatus(ctx, id, status)
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := utils.InitLogging(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to init logging: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Gateway stopped with error", zap.Error(err))
	}
	logger.Info("Shutdown complete")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}

	rdb, err := redis.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer rdb.Close()
	deviceCache := cache.New(rdb, logger)
	scheduleStore := cache.NewScheduleStore(rdb)

	dbConn, err := db.NewDB(ctx, cfg.Database.URL, cfg.App.GatewayID)
	if err != nil {
		return err
	}
	defer dbConn.Close()
	if err := dbConn.Migrate(ctx); err != nil {
		return err
	}

	queueOpt := taskqueue.RedisOpt(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	queueClient := asynq.NewClient(queueOpt)
	defer queueClient.Close()
	mgmt := backend{DB: dbConn, status: taskqueue.NewStatusQueue(queueClient, logger)}
	worker := taskqueue.NewWorker(queueOpt, dbConn, logger)

	bus := eventbus.New(logger)

	localMQTT, err := mqtt.Connect(mqtt.Options{
		Broker:         cfg.Local.Broker,
		ClientID:       cfg.Local.ClientID,
		Username:       cfg.Local.Username,
		Password:       cfg.Local.Password,
		ReconnectDelay: cfg.Local.ReconnectDelay,
	}, logger)
	if err != nil {
		return err
	}
	defer localMQTT.Close()

	cloudUser := cfg.Cloud.Username
	if cfg.Cloud.AccessToken != "" {
		cloudUser = cfg.Cloud.AccessToken
	}
	cloudMQTT, err := mqtt.Connect(mqtt.Options{
		Broker:         cfg.Cloud.Broker,
		ClientID:       cfg.Cloud.ClientID,
		Username:       cloudUser,
		Password:       cfg.Cloud.Password,
		ReconnectDelay: cfg.Cloud.ReconnectDelay,
	}, logger)
	if err != nil {
		return err
	}
	defer cloudMQTT.Close()

	var tokens *cloudbridge.TokenSource
	var rest *cloudbridge.RESTClient
	if cfg.Cloud.APIURL != "" {
		httpClient := &http.Client{Timeout: cfg.Cloud.HTTPTimeout}
		tokens = cloudbridge.NewTokenSource(cfg.Cloud.APIURL, cfg.Cloud.APIUsername, cfg.Cloud.APIPassword, httpClient, logger)
		if err := tokens.RefreshNow(ctx); err != nil {
			logger.Warn("Cloud REST login failed, will retry", zap.Error(err))
		}
		rest = cloudbridge.NewRESTClient(cfg.Cloud.APIURL, httpClient, tokens)
	}

	local := localbridge.New(localMQTT, deviceCache, bus, correlation.NewTable(), localbridge.Options{
		Topics:          localbridge.TopicsFromConfig(cfg.Local.Topics),
		ResponseTimeout: cfg.Control.ResponseTimeout,
		InboxSize:       cfg.Control.InboxSize,
	}, logger)
	cloud := cloudbridge.New(cloudMQTT, rest, bus, cfg.Cloud.RPCQueueSize, logger)

	var sink services.HistorySink
	if cfg.Influx.Enabled {
		influx, err := history.Connect(ctx, history.Options{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		}, logger)
		if err != nil {
			logger.Warn("Telemetry history disabled", zap.Error(err))
		} else {
			defer influx.Close()
			sink = influx
		}
	}

	auto := services.NewAutoActuator(bus, cfg.Auto.FanOnAbove, cfg.Auto.LuminosityMax, logger)
	control := services.NewControl(deviceCache, local, cloud, logger)
	services.NewRegistration(deviceCache, mgmt, local, cloud, logger).Subscribe(bus)
	services.NewTelemetry(deviceCache, mgmt, cloud, auto, sink, logger).Subscribe(bus)
	control.Subscribe(bus)
	services.NewDiagnostics(logger).Subscribe(bus)
	liveness := services.NewLiveness(deviceCache, mgmt, local, cloud, cfg.LWT.GracePeriod, logger)

	if err := services.WarmCache(ctx, dbConn, deviceCache, logger); err != nil {
		return err
	}

	manager := scheduler.NewManager(scheduleStore, logger)
	if cfg.Scheduler.SeedFile != "" {
		if n, err := manager.Seed(ctx, cfg.Scheduler.SeedFile); err != nil {
			logger.Warn("Schedule seed failed", zap.String("file", cfg.Scheduler.SeedFile), zap.Error(err))
		} else {
			logger.Info("Schedules seeded", zap.Int("added", n))
		}
	}
	sched := scheduler.NewScheduler(scheduleStore, deviceCache, bus, cfg.Scheduler.Spec, logger)

	liveness.Register()
	if err := local.Start(ctx); err != nil {
		return err
	}
	if err := cloud.Start(); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return local.Run(gctx) })
	g.Go(func() error { return cloud.Run(gctx) })
	g.Go(func() error { return worker.Run(gctx) })

	if tokens != nil {
		g.Go(func() error { return tokens.Run(gctx, cfg.Cloud.TokenRefresh) })
		if cfg.Cloud.GatewayDeviceID != "" {
			stream, err := cloudbridge.NewStream(cloudbridge.StreamConfig{
				BaseURL:    cfg.Cloud.APIURL,
				DeviceID:   cfg.Cloud.GatewayDeviceID,
				RetryDelay: cfg.Cloud.StreamRetry,
			}, tokens, logger)
			if err != nil {
				logger.Warn("Attribute stream disabled", zap.Error(err))
			} else {
				g.Go(func() error { return stream.Run(gctx) })
			}
		}
	}

	if cfg.Admin.JWTSecret != "" && cfg.Admin.PasswordHash != "" {
		authModule := auth.NewAuthModule(rdb, cfg.Admin.Username, cfg.Admin.PasswordHash, cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)
		ws := web.NewWebServer(web.Dependencies{
			Auth:      authModule,
			Devices:   deviceCache,
			Control:   control,
			Schedules: manager,
			Probes: map[string]api.Probe{
				"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
				"database": dbConn.Ping,
				"local":    connected(localMQTT),
				"cloud":    connected(cloudMQTT),
			},
		}, logger)
		g.Go(func() error { return ws.Start(gctx, cfg.Admin.Addr) })
	} else {
		logger.Info("Admin API disabled, admin.jwt_secret and admin.password_hash are not set")
	}

	if cfg.MDNS.Enabled {
		g.Go(func() error {
			if err := discovery.Serve(gctx, cfg.MDNS.LocalName, logger); err != nil {
				logger.Warn("mDNS responder stopped", zap.Error(err))
			}
			return nil
		})
	}

	logger.Info("Gateway started", zap.Int("gateway_id", cfg.App.GatewayID))
	<-gctx.Done()
	logger.Info("Shutting down")

	sched.Stop()
	local.Close()
	cloud.Close()
	stop()
	err = g.Wait()
	bus.Wait()
	return err
}

func connected(c *mqtt.Client) api.Probe {
	return func(context.Context) error {
		if !c.IsConnected() {
			return errors.New("not connected")
		}
		return nil
	}
}
