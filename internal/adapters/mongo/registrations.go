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
	"go.mongodb.org/mongo-driver/mongo/options"
)

type RegistrationRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewRegistrationRepository(db *mongo.Database, logger observability.Logger) *RegistrationRepository {
	return &RegistrationRepository{
		coll:   db.Collection("registrations"),
		logger: logger,
	}
}

// EnsureIndexes creates the lookup indexes. payment_reference is sparse
// unique: absent until a transaction is initialized, the join key afterwards.
func (r *RegistrationRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "payment_reference", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{Keys: bson.D{{Key: "event_id", Value: 1}, {Key: "payment_status", Value: 1}}},
		{Keys: bson.D{{Key: "customer_email", Value: 1}}},
	})
	return err
}

func (r *RegistrationRepository) Create(ctx context.Context, reg *domain.Registration) error {
	_, err := r.coll.InsertOne(ctx, reg)
	if err != nil {
		r.logger.WithError(err).Error("failed to insert registration")
		return err
	}
	return nil
}

func (r *RegistrationRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Registration, error) {
	var reg domain.Registration
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&reg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (r *RegistrationRepository) GetByReference(ctx context.Context, reference string) (*domain.Registration, error) {
	var reg domain.Registration
	err := r.coll.FindOne(ctx, bson.M{"payment_reference": reference}).Decode(&reg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// AttachProviderHandle records the provider handle from a freshly initialized
// transaction. Write-once: a registration that already carries a payment
// reference keeps it, and the call reports false.
func (r *RegistrationRepository) AttachProviderHandle(ctx context.Context, id uuid.UUID, method, reference string, data map[string]interface{}) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{
			"_id":               id,
			"payment_reference": bson.M{"$in": bson.A{nil, ""}},
		},
		bson.M{"$set": bson.M{
			"payment_method":    method,
			"payment_reference": reference,
			"provider_data":     data,
			"updated_at":        time.Now().UTC(),
		}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

// Transition applies a compare-and-set status write keyed by payment
// reference: the update matches only when the stored status is one the guard
// permits for the target. It returns the registration after the call, the
// status it held before, and whether a transition was actually applied; an
// equal-status replay or a blocked regression is a no-op with applied=false.
func (r *RegistrationRepository) Transition(ctx context.Context, reference string, to domain.PaymentStatus) (*domain.Registration, domain.PaymentStatus, bool, error) {
	froms := bson.A{}
	for _, s := range domain.AllowedFrom(to) {
		froms = append(froms, s)
	}

	now := time.Now().UTC()
	res := r.coll.FindOneAndUpdate(ctx,
		bson.M{
			"payment_reference": reference,
			"payment_status":    bson.M{"$in": froms},
		},
		bson.M{"$set": bson.M{
			"payment_status": to,
			"updated_at":     now,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	)

	var prior domain.Registration
	err := res.Decode(&prior)
	if err == nil {
		from := prior.PaymentStatus
		prior.PaymentStatus = to
		prior.UpdatedAt = now
		return &prior, from, true, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, "", false, err
	}

	// No CAS match: the registration is either absent or its current status
	// blocks the write.
	reg, err := r.GetByReference(ctx, reference)
	if err != nil {
		return nil, "", false, err
	}
	return reg, reg.PaymentStatus, false, nil
}
