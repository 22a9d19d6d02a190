package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/whitebl3ck/event-payments/internal/domain"
	"github.com/whitebl3ck/event-payments/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// EventCatalog is the read-only view of the events collection the payment
// subsystem needs for ticket-price validation. Event CRUD itself is owned
// elsewhere.
type EventCatalog struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewEventCatalog(db *mongo.Database, logger observability.Logger) *EventCatalog {
	return &EventCatalog{
		coll:   db.Collection("events"),
		logger: logger,
	}
}

type EventDoc struct {
	ID             uuid.UUID          `bson:"_id"`
	Name           string             `bson:"name"`
	Description    string             `bson:"description"`
	Venue          string             `bson:"venue"`
	Date           time.Time          `bson:"date"`
	TicketPackages []TicketPackageDoc `bson:"ticket_packages"`
	CreatedAt      time.Time          `bson:"created_at"`
	UpdatedAt      time.Time          `bson:"updated_at"`
}

type TicketPackageDoc struct {
	Label string  `bson:"label"`
	Price float64 `bson:"price"`
}

// Package looks up a ticket package by its label.
func (e *EventDoc) Package(label string) (TicketPackageDoc, bool) {
	for _, pkg := range e.TicketPackages {
		if pkg.Label == label {
			return pkg, true
		}
	}
	return TicketPackageDoc{}, false
}

func (c *EventCatalog) GetEvent(ctx context.Context, id uuid.UUID) (*EventDoc, error) {
	var event EventDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&event)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to get event")
		return nil, err
	}
	return &event, nil
}

// CreateEvent exists for seeding and tests; the service itself never writes
// events.
func (c *EventCatalog) CreateEvent(ctx context.Context, event EventDoc) error {
	event.CreatedAt = time.Now().UTC()
	event.UpdatedAt = event.CreatedAt
	_, err := c.coll.InsertOne(ctx, event)
	if err != nil {
		c.logger.WithError(err).Error("failed to create event")
		return err
	}
	return nil
}
