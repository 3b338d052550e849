package backend

import (
	"context"
	"errors"
	"fmt"

	"finapp/internal/amqp"
	"finapp/internal/events"
	"finapp/internal/events/kafka"
	"finapp/internal/log"
	"finapp/internal/storage"
	"finapp/internal/storage/firestore"
	"finapp/internal/storage/memory"
	"finapp/internal/storage/sqlite"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Nop()
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// CreateBackend opens the configured store and event transport. A broker
// that cannot be reached degrades to a no-op publisher so writes keep
// working; a store that cannot be opened is fatal.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := f.createStore(ctx, config)
	if err != nil {
		return nil, err
	}
	closers := []func() error{store.Close}

	res := &BackendResult{Store: store, Publisher: events.NopPublisher{}}

	switch config.EventsType {
	case AMQPEvents:
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue, f.logger)
		if err != nil {
			if config.WithConsumer {
				store.Close()
				return nil, fmt.Errorf("failed to connect to AMQP: %w", err)
			}
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, continuing without events", log.FieldError, err.Error())
			break
		}
		f.logger.InfoContext(ctx, "Initialized AMQP client",
			"exchange", config.AMQPExchange,
			"queue", config.AMQPQueue)
		res.Publisher = client
		if config.WithConsumer {
			res.Consumer = client
		}
		closers = append(closers, client.Close)

	case KafkaEvents:
		pub := kafka.NewPublisher(config.KafkaBrokers, config.KafkaTopic)
		res.Publisher = pub
		closers = append(closers, pub.Close)
		if config.WithConsumer {
			cons := kafka.NewConsumer(config.KafkaBrokers, config.KafkaTopic, config.KafkaGroupID, f.logger)
			res.Consumer = cons
			closers = append(closers, cons.Close)
		}
		f.logger.InfoContext(ctx, "Initialized Kafka transport",
			"brokers", config.KafkaBrokers,
			"topic", config.KafkaTopic)
	}

	res.Cleanup = func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	return res, nil
}

func (f *DefaultFactory) createStore(ctx context.Context, config Config) (storage.Store, error) {
	switch config.Type {
	case SQLiteBackend:
		store, err := sqlite.New(config.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized SQLite backend", "db_path", config.SQLiteDBPath)
		return store, nil

	case FirestoreBackend:
		store, err := firestore.New(ctx, firestore.Config{
			ProjectID:       config.FirebaseProjectID,
			CredentialsFile: config.FirebaseCredentialsFile,
			EmulatorHost:    config.FirestoreEmulatorHost,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Firestore store: %w", err)
		}
		f.logger.InfoContext(ctx, "Initialized Firestore backend",
			"project_id", config.FirebaseProjectID,
			"emulator", config.FirestoreEmulatorHost != "")
		return store, nil

	case MemoryBackend:
		f.logger.InfoContext(ctx, "Initialized memory backend")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
}
