package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/serenomind/sereno/internal/ai"
	"github.com/serenomind/sereno/internal/cache"
	"github.com/serenomind/sereno/internal/config"
	"github.com/serenomind/sereno/internal/db"
	"github.com/serenomind/sereno/internal/insight"
	"github.com/serenomind/sereno/internal/logger"
	"github.com/serenomind/sereno/internal/store/rabbitmq"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	defer logger.Sync()

	gdb := db.Connect(cfg.DBDSN)
	repo := insight.NewRepo(gdb)

	reg := ai.NewRegistry()
	reg.Register("gemini", func(ctx context.Context) (ai.Provider, error) {
		_ = ctx
		return ai.NewGeminiProvider(cfg.GeminiBaseURL, cfg.GeminiAPIKey, cfg.GeminiTimeout), nil
	})
	provider, err := reg.Get(context.Background(), cfg.AIProvider)
	if err != nil {
		logger.Fatalf("unsupported AI_PROVIDER=%q", cfg.AIProvider)
	}
	orch := ai.NewOrchestrator(provider, cfg.GeminiModel, cfg.GeminiFallbackModel)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := cache.NewRedis(rdb, cfg.CacheTTL)

	svc := insight.NewService(repo, orch, store, cfg.DebugAI)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		logger.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		logger.Fatalf("declare topology: %v", err)
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		logger.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		logger.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infow("worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m rabbitmq.JobMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					logger.Warnw("bad message", "worker", workerID, "err", err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := svc.ProcessJob(ctx, m.JobID); err != nil {
					logger.Errorw("job failed",
						"worker", workerID, "job", m.JobID,
						"cost", time.Since(start), "err", err)
					_ = d.Nack(false, false)
					continue
				}
				logger.Infow("job done",
					"worker", workerID, "job", m.JobID, "cost", time.Since(start))

				if err := d.Ack(false); err != nil {
					logger.Errorw("ack failed", "worker", workerID, "job", m.JobID, "err", err)
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Infof("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				logger.Warnf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}
