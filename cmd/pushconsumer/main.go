// Command pushconsumer wires a push-style Kafka consumer client, its retry
// producer, and a Postgres-backed dead-letter audit store into a single
// application.Application, following the config-load -> construct ->
// application.New -> app.Run shape used throughout this module.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/242617/pushconsumer/application"
	"github.com/242617/pushconsumer/config"
	"github.com/242617/pushconsumer/deadletter"
	"github.com/242617/pushconsumer/kafka"
	"github.com/242617/pushconsumer/kafka/producer"
	"github.com/242617/pushconsumer/logger"
	"github.com/242617/pushconsumer/pgrepo"
	"github.com/242617/pushconsumer/pipeline"
	"github.com/242617/pushconsumer/protocol"
	"github.com/242617/pushconsumer/pushconsumer"
)

type appConfig struct {
	Logger  logger.Config       `yaml:"logger"`
	Consume pushconsumer.Config `yaml:"consume"`
	Retry   producer.Config     `yaml:"retry_producer"`
	DB      pgrepo.Config       `yaml:"db"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run wires every long-lived component in a single sequential
// pipeline.Pipeline: each stage assigns into an outer-scope variable the
// next stage closes over, so a failure at any stage short-circuits the rest
// without starting anything half-built.
func run() error {
	var (
		cfg           appConfig
		log           protocol.Logger
		retryProducer *producer.Producer
		db            *pgrepo.DB
		dlqStore      *deadletter.Store
		broker        kafka.Broker
		cc            *pushconsumer.ConsumeContext
		client        *pushconsumer.Client
		app           *application.Application
	)

	setup := pipeline.New(context.Background(), func(context.Context) error {
		return config.New().Scan(&cfg)
	}).Name("load config").
		Then(func(context.Context) error {
			l, err := logger.New(logger.WithConfig(cfg.Logger))
			if err != nil {
				return err
			}
			log = l
			return nil
		}).Name("create logger").
		Then(func(context.Context) error {
			p, err := producer.New(producer.WithConfig(cfg.Retry), producer.WithLogger(log))
			if err != nil {
				return err
			}
			retryProducer = p
			return nil
		}).Name("create retry producer").
		Then(func(context.Context) error {
			d, err := pgrepo.New(pgrepo.WithConfig(cfg.DB), pgrepo.WithLogger(log))
			if err != nil {
				return err
			}
			db = d
			dlqStore = deadletter.NewStore(db, cfg.Consume.GroupID, log)
			return nil
		}).Name("create db and dlq store").
		Then(func(context.Context) error {
			b, err := kafka.NewKgoBroker(kafka.KgoBrokerConfig{
				Brokers: cfg.Consume.BootstrapServers,
				GroupID: cfg.Consume.GroupID,
			}, log)
			if err != nil {
				return err
			}
			broker = b
			return nil
		}).Name("create broker").
		Then(func(context.Context) error {
			c, err := pushconsumer.NewConsumeContext(
				pushconsumer.WithConfig(cfg.Consume),
				pushconsumer.WithLogger(log),
				pushconsumer.WithHandler(exampleHandler(log)),
			)
			if err != nil {
				return err
			}
			cc = c
			return nil
		}).Name("create consume context").
		Then(func(context.Context) error {
			cl, err := pushconsumer.NewClient(cc, broker, retryProducer, pushconsumer.WithDeadLetterSink(dlqStore))
			if err != nil {
				return err
			}
			client = cl
			return nil
		}).Name("create pushconsumer client").
		Then(func(context.Context) error {
			a, err := application.New(
				application.WithName("pushconsumer"),
				application.WithLogger(log),
				application.WithComponents(
					application.NewLifecycleComponent("db", db),
					application.NewLifecycleComponent("retry-producer", retryProducer),
					application.NewLifecycleComponent("pushconsumer", client),
				),
			)
			if err != nil {
				return err
			}
			app = a
			return nil
		}).Name("create application")

	var setupErr error
	setup.Run(func(err error) { setupErr = err })
	if setupErr != nil {
		return fmt.Errorf("startup: %w", setupErr)
	}

	return app.Run(context.Background())
}

// exampleHandler demonstrates the Handler contract: ack everything that
// decodes, retry everything that doesn't.
func exampleHandler(log interface {
	Warn(ctx context.Context, msg string, args ...any)
}) pushconsumer.Handler {
	return func(ctx context.Context, messages []pushconsumer.Message, hctx *pushconsumer.HandlerContext) pushconsumer.ConsumeStatus {
		for i, m := range messages {
			if len(m.Value) == 0 {
				log.Warn(ctx, "empty message value, retrying", "topic", m.Topic, "partition", m.Partition, "offset", m.Offset)
				hctx.SetSuccess(i, false)
				continue
			}
			hctx.SetSuccess(i, true)
		}
		return pushconsumer.ConsumeStatusSuccess
	}
}
