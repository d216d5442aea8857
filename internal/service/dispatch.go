package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	commondb "fleetguard/common/database"
	commonlog "fleetguard/common/logger"
	mqttcommon "fleetguard/common/mqtt"
	rediscommon "fleetguard/common/redis"
	"fleetguard/internal/cache"
	"fleetguard/internal/config"
	"fleetguard/internal/consumer"
	"fleetguard/internal/fanout"
	"fleetguard/internal/gateway"
	"fleetguard/internal/geofence"
	httpapi "fleetguard/internal/http"
	"fleetguard/internal/repository"
	"fleetguard/internal/usagecontrol"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// DispatchService 调度服务：遥测关联管道 + 使用控制 + REST
type DispatchService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client

	consumer     *consumer.MQTTConsumer
	orchestrator *usagecontrol.Orchestrator
	tracker      *usagecontrol.Tracker
	server       *Server

	wg sync.WaitGroup
}

// NewDispatchService 创建调度服务
func NewDispatchService(cfg *config.Config, logger *zap.Logger) (*DispatchService, error) {
	// 初始化数据库
	db, err := commondb.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化MQTT
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
	}

	s := &DispatchService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		mqttClient:  mqttClient,
	}
	s.wire()
	return s, nil
}

// wire 组装组件
func (s *DispatchService) wire() {
	cfg, logger := s.config, s.logger

	// Repository
	deviceRepo := repository.NewDeviceRepository(s.db, logger)
	subscriptionRepo := repository.NewSubscriptionRepository(s.db, logger)
	eventsRepo := repository.NewTelemetryEventsRepository(s.db, logger)
	usageRepo := repository.NewUsageControlRepository(s.db, logger)

	// 缓存 / 实时状态 / 流
	identityCache := cache.NewRedisIdentityCache(s.redisClient, cfg.Telemetry.IdentityCacheTTL, logger)
	identity := cache.NewIdentityResolver(identityCache, deviceRepo, logger)
	liveState := consumer.NewRedisLiveState(s.redisClient, cfg.Telemetry.LiveStateTTL, logger)
	publisher := rediscommon.NewStreamPublisher(s.redisClient, cfg.Telemetry.StreamMaxLen)
	validator := geofence.NewValidator(cfg.Geofence.RadiusMeters)

	// 外部平台
	gwLogger := commonlog.Component(logger, "gateway")
	telemetryClient := gateway.NewTelemetryClient(&cfg.Gateway, gwLogger)
	trackingClient := gateway.NewTrackingClient(&cfg.Tracking, gwLogger)
	fanoutLogger := commonlog.Component(logger, "fanout")
	notifier := fanout.NewNotifier(fanout.NewResolver(trackingClient, fanoutLogger), publisher, cfg.Telemetry.NotifyStream, fanoutLogger)

	// 遥测管道
	consumerLogger := commonlog.Component(logger, "consumer")
	pipeline := consumer.NewPipeline(consumer.Deps{
		Identity:        identity,
		Subscriptions:   subscriptionRepo,
		Events:          eventsRepo,
		Status:          deviceRepo,
		Notifier:        notifier,
		LiveState:       liveState,
		Publisher:       publisher,
		Geofence:        validator,
		TelemetryStream: cfg.Telemetry.TelemetryStream,
	}, consumerLogger)
	s.consumer = consumer.NewMQTTConsumer(s.mqttClient, pipeline, cfg.MQTT.Topics, cfg.MQTT.QoS, consumerLogger)

	// 使用控制
	ucLogger := commonlog.Component(logger, "usagecontrol")
	locker := usagecontrol.NewRedisDeviceLocker(s.redisClient, cfg.UsageControl.LockTTL, ucLogger)
	s.orchestrator = usagecontrol.NewOrchestrator(deviceRepo, usageRepo, telemetryClient, identity, locker, liveState, validator,
		usagecontrol.Options{
			Cooldown:        cfg.UsageControl.Cooldown,
			PendingTimeout:  cfg.UsageControl.PendingTimeout,
			CommandTTL:      cfg.UsageControl.CommandTTL,
			MinReasonLength: cfg.UsageControl.MinReasonLength,
		}, ucLogger)
	s.tracker = usagecontrol.NewTracker(deviceRepo, usageRepo, telemetryClient, identity, cfg.UsageControl.ConfirmInterval, ucLogger)

	// REST
	router := httpapi.NewRouter(logger)
	router.RegisterHealthRoutes()
	router.RegisterGeofenceRoutes(httpapi.NewGeofenceHandler(validator, logger))
	router.RegisterUsageControlRoutes(httpapi.NewUsageControlHandler(s.orchestrator, s.tracker, logger))
	s.server = NewServer(cfg.HTTP.Addr, router, logger)
}

// Start 启动服务，阻塞直到 ctx 取消
func (s *DispatchService) Start(ctx context.Context) error {
	s.logger.Info("Starting dispatch service components")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.server.Start(); err != nil {
			s.logger.Error("HTTP server stopped with error", zap.Error(err))
		}
	}()
	// 命令确认：先恢复重启前的待确认命令，再按间隔轮询
	go func() {
		defer s.wg.Done()
		s.tracker.Run(ctx)
	}()

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mqtt consumer: %w", err)
	}
	return nil
}

// Stop 停止服务
func (s *DispatchService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping dispatch service")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Error("Error stopping mqtt consumer", zap.Error(err))
	}
	if err := s.server.Stop(ctx); err != nil {
		s.logger.Error("Error stopping HTTP server", zap.Error(err))
	}
	s.wg.Wait()

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if err := rediscommon.Close(s.redisClient); err != nil {
		s.logger.Error("Error closing Redis client", zap.Error(err))
	}
	if err := commondb.Close(s.db); err != nil {
		s.logger.Error("Error closing database connection", zap.Error(err))
	}

	s.logger.Info("Dispatch service stopped")
	return nil
}
