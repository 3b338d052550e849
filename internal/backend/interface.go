package backend

import (
	"context"

	"finapp/internal/events"
	"finapp/internal/storage"
)

// CleanupFunc releases a resource created by the factory
type CleanupFunc func() error

// BackendResult bundles the document store and event transport the
// ledger runs on.
type BackendResult struct {
	Store     storage.Store
	Publisher events.Publisher
	Consumer  events.Consumer // nil unless requested and EventsType is not none
	Cleanup   CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// Firestore specific
	FirebaseProjectID       string
	FirebaseCredentialsFile string
	FirestoreEmulatorHost   string

	// Events
	EventsType   EventsType
	WithConsumer bool
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string
}

type BackendType string

const (
	MemoryBackend    BackendType = "memory"
	SQLiteBackend    BackendType = "sqlite"
	FirestoreBackend BackendType = "firestore"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, FirestoreBackend:
		return true
	default:
		return false
	}
}

type EventsType string

const (
	NoEvents    EventsType = "none"
	AMQPEvents  EventsType = "amqp"
	KafkaEvents EventsType = "kafka"
)

func (et EventsType) IsValid() bool {
	switch et {
	case NoEvents, AMQPEvents, KafkaEvents:
		return true
	default:
		return false
	}
}
