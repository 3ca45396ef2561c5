package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"bizconnect/internal/approval"
	"bizconnect/internal/awsutil"
	"bizconnect/internal/bridge"
	"bizconnect/internal/callback"
	"bizconnect/internal/clock"
	"bizconnect/internal/config"
	"bizconnect/internal/dispatch"
	"bizconnect/internal/domain"
	"bizconnect/internal/httpserver"
	"bizconnect/internal/ingest"
	"bizconnect/internal/kv"
	"bizconnect/internal/logging"
	"bizconnect/internal/observability"
	"bizconnect/internal/offline"
	"bizconnect/internal/push"
	"bizconnect/internal/ratelimit"
	"bizconnect/internal/store/pg"
	"bizconnect/internal/telephony"
	"bizconnect/internal/util"
)

// Queue priority for callbacks originated by the device's own call
// observation; remote tasks carry their own priority.
const callbackPriority = 1

func main() {
	_ = godotenv.Load()

	cfg := config.LoadAgent()
	logging.Init("agent", cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Remote store of record. The device may boot offline, so an
	// unreachable database is a warning, not a startup failure.
	db, err := pg.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		slog.Error("db pool init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	remote := pg.New(db)

	startupCtx, startupCancel := context.WithTimeout(ctx, 3*time.Second)
	if err := db.Ping(startupCtx); err != nil {
		slog.Warn("db not reachable at startup, continuing offline", "err", err)
	}
	startupCancel()

	// Durable local store. Unlike the remote side this has to be there:
	// snapshots and the offline buffer live in it.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("local store not reachable", "err", err)
		os.Exit(1)
	}
	local := kv.NewRedis(rdb)

	sqsClient, err := awsutil.NewSQSClient(ctx, cfg.AWSRegion, cfg.LocalstackEndpoint)
	if err != nil {
		slog.Error("sqs client init failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	clk := clock.Real{}

	// Connectivity monitor + offline write path.
	monitor := offline.NewMonitor(func(c context.Context) error {
		return db.Ping(c)
	}, cfg.ProbeInterval, cfg.ProbeTimeout)

	buffer := &offline.Queue{KV: local, Remote: remote}
	writer := &offline.Writer{Remote: remote, Buffer: buffer, Monitor: monitor}

	monitor.OnChange(func(online bool) {
		if !online {
			return
		}
		go func() {
			if _, _, err := buffer.Replay(ctx); err != nil {
				slog.Error("offline buffer replay failed", "err", err)
			}
		}()
	})

	limiter := ratelimit.New(remote, clk)

	// Native bridge: send capability + approval UI.
	bridgeClient := &bridge.Client{
		BaseURL:    cfg.BridgeBaseURL,
		HTTP:       &http.Client{Timeout: cfg.BridgeTimeout},
		AckTimeout: cfg.SendAckTimeout,
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bridge",
		MaxRequests: 3,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 10 },
	})

	queue := dispatch.NewQueue(bridgeClient, writer, limiter, local, clk, dispatch.Options{
		ThrottleInterval: cfg.ThrottleInterval,
		RetryDelay:       cfg.RetryDelay,
		MaxAttempts:      cfg.MaxAttempts,
	})
	queue.Breaker = cb

	if err := queue.Restore(ctx); err != nil {
		slog.Error("dispatch snapshot restore failed", "err", err)
	}
	queue.Start(ctx)
	defer queue.Stop()

	// Callback pipeline: classified call outcomes become tasks directly,
	// bypassing the approval gateway.
	engine := &callback.Engine{
		Config:   remote,
		Creator:  writer,
		Queue:    queue,
		Clock:    clk,
		IDGen:    util.NewTaskID,
		Priority: callbackPriority,
	}
	classifier := telephony.NewClassifier(func(ev domain.CallEventType, phone string) {
		go engine.HandleCallEvent(ctx, cfg.UserID, phone, ev)
	})

	// Remote task ingestion: feed, poll, and push all converge here.
	gateway := &approval.Gateway{Prompter: bridgeClient, KV: local}
	router := &ingest.Router{
		UserID:        cfg.UserID,
		Store:         remote,
		Writer:        writer,
		Gateway:       gateway,
		Queue:         queue,
		Clock:         clk,
		RecencyWindow: cfg.RecencyWindow,
		Notified:      ingest.NewNotifiedSet(),
	}

	go monitor.Run(ctx)

	feed := &pg.Feed{DB: db, UserID: cfg.UserID}
	go func() {
		err := feed.Run(ctx, func(c context.Context, ev pg.FeedEvent) {
			if err := router.HandleTaskID(c, ev.TaskID, ingest.ChannelFeed); err != nil {
				slog.Error("feed ingest failed", "task_id", ev.TaskID, "err", err)
			}
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("change feed stopped", "err", err)
		}
	}()

	consumer := &push.Consumer{
		SQS: sqsClient, QueueURL: cfg.SQSQueueURL,
		WaitTimeSeconds:   cfg.SQSWaitTime,
		MaxMessages:       cfg.SQSMaxMsgs,
		VisibilityTimeout: cfg.SQSVizTimeout,
	}
	go func() {
		err := consumer.Poll(ctx, func(c context.Context, p push.Payload) error {
			if p.IsBatch() {
				ids, err := p.BatchIDs()
				if err != nil {
					return err
				}
				return router.HandleBatch(c, ids, ingest.ChannelPush)
			}
			return router.HandleTaskID(c, p.TaskID, ingest.ChannelPush)
		})
		if err != nil && ctx.Err() == nil {
			slog.Error("push consumer stopped", "err", err)
		}
	}()

	// Startup catch-up, then the recency-windowed fallback poll.
	go func() {
		router.Poll(ctx)
		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				router.Poll(ctx)
			}
		}
	}()

	// Agent API.
	srv := httpserver.New()
	api := &httpserver.API{
		Ingest:  router,
		Gateway: gateway,
		Tasks:   remote,
		Queue:   queue,
		Offline: buffer,
	}
	api.Register(srv.Mux)
	(&httpserver.TelephonyBridge{Classifier: classifier}).Register(srv.Mux)

	srv.Mux.HandleFunc("/healthz", httpserver.Healthz())
	srv.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second,
		func(c context.Context) error { return rdb.Ping(c).Err() },
		func(c context.Context) error {
			_, err := sqsClient.GetQueueAttributes(c, &sqs.GetQueueAttributesInput{
				QueueUrl:       &cfg.SQSQueueURL,
				AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
			})
			return err
		},
	))

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpserver.Logging(httpserver.Metrics(observability.APIRequests)(srv.Mux)),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("agent listening", "port", cfg.Port, "user_id", cfg.UserID)
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			slog.Error("agent http server failed", "err", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		slog.Info("agent shutdown", "signal", sig.String())
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}
