// Package main provides the HL7 relay entry point.
// Consumes queued ADT messages and delivers them to the EMR gateway,
// dead-lettering messages that exhaust their retries.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/careport/go-adt-bridge/internal/domain/registration"
	"github.com/careport/go-adt-bridge/internal/gateway"
	"github.com/careport/go-adt-bridge/internal/infrastructure/kafka"
	"github.com/careport/go-adt-bridge/pkg/circuitbreaker"
	"github.com/careport/go-adt-bridge/pkg/workerpool"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load config
	brokers := []string{"localhost:9092"}
	if b := os.Getenv("KAFKA_BROKERS"); b != "" {
		brokers = []string{b}
	}

	gwCfg := gateway.DefaultConfig()
	if v := os.Getenv("GATEWAY_URL"); v != "" {
		gwCfg.BaseURL = v
	}
	gwCfg.ClientID = envOr("GATEWAY_CLIENT_ID", "hl7-relay")
	gwCfg.ClientSecret = envOr("GATEWAY_CLIENT_SECRET", "relay-dev-secret")

	// Ensure topics exist before consuming
	admin, err := kafka.NewAdmin(brokers, logger)
	if err != nil {
		logger.Fatal("admin client creation failed", zap.Error(err))
	}
	if err := admin.EnsureTopics(context.Background()); err != nil {
		logger.Warn("topic creation failed", zap.Error(err))
	}
	admin.Close()

	// Gateway client behind a circuit breaker
	gw := gateway.NewClient(gwCfg, logger)

	breaker, err := circuitbreaker.New(circuitbreaker.DefaultConfig("emr-gateway"), logger)
	if err != nil {
		logger.Fatal("circuit breaker creation failed", zap.Error(err))
	}

	// Producer for dead letters
	producerCfg := kafka.DefaultProducerConfig()
	producerCfg.Brokers = brokers

	producer, err := kafka.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	// Worker pool bounds concurrent deliveries
	poolCfg := workerpool.DefaultConfig()
	pool, err := workerpool.New(poolCfg, func(ctx context.Context, task *workerpool.Task) *workerpool.Result {
		return deliver(ctx, task, gw, breaker, logger)
	}, logger)
	if err != nil {
		logger.Fatal("worker pool creation failed", zap.Error(err))
	}

	pool.Start()
	defer pool.Stop()

	// Dead-letter failed deliveries
	go func() {
		for result := range pool.Results() {
			if result.Success {
				continue
			}
			payload, _ := result.Data.([]byte)
			if payload == nil {
				continue
			}
			if err := producer.ProduceMessage(context.Background(), kafka.TopicHL7DeadLetter, result.TaskID, payload); err != nil {
				logger.Error("dead letter publish failed",
					zap.String("control_id", result.TaskID),
					zap.Error(err))
			} else {
				logger.Warn("message dead-lettered",
					zap.String("control_id", result.TaskID))
			}
		}
	}()

	// Consume queued messages
	consumerCfg := kafka.DefaultConsumerConfig()
	consumerCfg.Brokers = brokers

	consumer, err := kafka.NewConsumer(consumerCfg, func(ctx context.Context, msg *kafka.ConsumedMessage) error {
		task := &workerpool.Task{
			ID:      string(msg.Key),
			Payload: msg.Value,
			Context: ctx,
		}
		return pool.Submit(task)
	}, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}

	consumer.Start()
	logger.Info("HL7 relay started", zap.Strings("brokers", brokers))

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	consumer.Stop()
	logger.Info("HL7 relay stopped")
}

// deliver submits one ADT message to the gateway. The original payload
// rides along in the result so failures can be dead-lettered.
func deliver(ctx context.Context, task *workerpool.Task, gw *gateway.Client, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *workerpool.Result {
	message, ok := task.Payload.([]byte)
	if !ok {
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: errors.New("unexpected payload type")}
	}

	out, err := breaker.Execute(ctx, func() (interface{}, error) {
		return gw.SubmitHL7(ctx, string(message))
	})
	if err != nil {
		logger.Error("delivery failed",
			zap.String("control_id", task.ID),
			zap.Error(err))
		return &workerpool.Result{TaskID: task.ID, Success: false, Error: err, Data: message}
	}

	action := ""
	if summary, ok := out.(*registration.Summary); ok {
		action = summary.Patient.Action
	}
	logger.Info("message delivered",
		zap.String("control_id", task.ID),
		zap.String("patient_action", action))
	return &workerpool.Result{TaskID: task.ID, Success: true}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
