package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bloodlink-coordinator/internal/agents/coordinator"
	"bloodlink-coordinator/internal/agents/donormatch"
	"bloodlink-coordinator/internal/agents/hospital"
	"bloodlink-coordinator/internal/agents/inventory"
	"bloodlink-coordinator/internal/agents/logistics"
	"bloodlink-coordinator/internal/agents/verification"
	"bloodlink-coordinator/internal/common/database"
	commonlogger "bloodlink-coordinator/internal/common/logger"
	commonmqtt "bloodlink-coordinator/internal/common/mqtt"
	rediscommon "bloodlink-coordinator/internal/common/redis"
	"bloodlink-coordinator/internal/config"
	"bloodlink-coordinator/internal/dispatch"
	"bloodlink-coordinator/internal/eventlog"
	"bloodlink-coordinator/internal/httpapi"
	"bloodlink-coordinator/internal/notify"
	"bloodlink-coordinator/internal/reasoning"
	"bloodlink-coordinator/internal/repository"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	logger, err := commonlogger.NewLogger(cfg.Log.Level, cfg.Log.Format, "bloodlink-coordinator")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer logger.Sync()

	// 3. 初始化Postgres
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	// 4. 初始化Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer rediscommon.Close(redisClient)

	// 5. 初始化MQTT（通知推送通道）
	mqttClient, err := commonmqtt.NewClient(&cfg.MQTT)
	if err != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
	}
	defer mqttClient.Disconnect()

	// 6. 初始化存储层
	requests := repository.NewShortageRequestsRepository(db, logger)
	workflows := repository.NewWorkflowStatesRepository(db, logger)
	donors := repository.NewDonorsRepository(db, logger)
	responses := repository.NewDonorResponsesRepository(db, logger)
	hospitals := repository.NewHospitalsRepository(db, logger)
	inventoryUnits := repository.NewInventoryUnitsRepository(db, logger)
	transports := repository.NewTransportRequestsRepository(db, logger)
	decisions := repository.NewAgentDecisionsRepository(db, logger)
	eventsRepo := repository.NewAgentEventsRepository(db, logger)

	// 7. 事件日志、触发队列、通知、外部决策服务
	events := eventlog.NewEventRecorder(eventsRepo, redisClient, cfg.EventLog.Stream, logger)
	queue := dispatch.NewRedisQueue(redisClient, cfg.Dispatch.Stream)
	notifier := notify.NewMQTTNotifier(mqttClient, cfg.MQTT.QoS, logger)
	decider := reasoning.NewClient(&cfg.Reasoning, logger)

	// 8. 组装六个Agent
	hospitalAgent := hospital.NewAgent(requests, workflows, hospitals, inventoryUnits,
		decisions, events, queue, decider, redisClient, cfg, logger)
	donorMatchAgent := donormatch.NewAgent(requests, workflows, donors, responses,
		decisions, events, queue, notifier, decider, cfg, logger)
	coordinatorAgent := coordinator.NewAgent(requests, workflows, responses, donors, hospitals,
		decisions, events, queue, notifier, decider, cfg, logger)
	inventoryAgent := inventory.NewAgent(requests, workflows, inventoryUnits, hospitals,
		transports, decisions, events, queue, decider, cfg, logger)
	logisticsAgent := logistics.NewAgent(transports, requests, workflows, responses, donors,
		decisions, events, notifier, decider, cfg, logger)
	verificationAgent := verification.NewAgent(donors, decisions, events, decider, cfg, logger)

	// 9. 注册触发消息处理器
	worker := dispatch.NewWorker(
		redisClient,
		logger,
		cfg.Dispatch.Stream,
		cfg.Dispatch.ConsumerGroup,
		cfg.Dispatch.ConsumerName,
		int64(cfg.Dispatch.BatchSize),
		cfg.Dispatch.Workers,
	)
	mustRegister(logger, worker, dispatch.TriggerDonorMatch, func(ctx context.Context, msg dispatch.Message) error {
		return donorMatchAgent.HandleShortage(ctx, msg.RequestID)
	})
	mustRegister(logger, worker, dispatch.TriggerInventorySearch, func(ctx context.Context, msg dispatch.Message) error {
		return inventoryAgent.HandleSearch(ctx, msg.RequestID)
	})
	mustRegister(logger, worker, dispatch.TriggerLogisticsPlan, func(ctx context.Context, msg dispatch.Message) error {
		transportID := msg.Extra["transport_id"]
		if transportID == "" {
			logger.Warn("Logistics trigger missing transport_id", zap.String("request_id", msg.RequestID))
			return nil
		}
		_, err := logisticsAgent.PlanTransport(ctx, transportID)
		return err
	})
	mustRegister(logger, worker, dispatch.TriggerOptimalMatch, func(ctx context.Context, msg dispatch.Message) error {
		_, err := coordinatorAgent.SelectOptimalMatch(ctx, msg.RequestID)
		return err
	})

	// 10. 启动后台任务与HTTP服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- worker.Start(ctx)
	}()
	go coordinatorAgent.RunTimeoutSweep(ctx)
	go hospitalAgent.RunAutoAlertLoop(ctx, time.Duration(cfg.Hospital.AutoAlertSweepSec)*time.Second)

	router := httpapi.NewRouter(hospitalAgent, coordinatorAgent, logisticsAgent, verificationAgent, queue, logger)
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		logger.Info("HTTP server started", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 11. 等待信号（优雅关闭）
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("Service error, shutting down", zap.Error(err))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}

	logger.Info("Coordinator service stopped")
}

func mustRegister(logger *zap.Logger, worker *dispatch.Worker, triggerType dispatch.TriggerType, handler dispatch.HandlerFunc) {
	if err := worker.Register(triggerType, handler); err != nil {
		logger.Fatal("Failed to register trigger handler",
			zap.String("trigger_type", string(triggerType)),
			zap.Error(err),
		)
	}
}
