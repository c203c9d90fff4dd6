package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	orderDomain "github.com/davicafu/orderlog/internal/order/domain"
	sharedMongo "github.com/davicafu/orderlog/internal/shared/infra/platform/db/mongodb"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const EventsCollection = "order_events"

// EventStoreMongoDB guarda cada evento como un documento. El índice único
// (aggregateId, version) es lo que detecta escrituras concurrentes.
// Las transacciones necesitan un replica set.
type EventStoreMongoDB struct {
	client     *mongo.Client
	eventsColl *mongo.Collection
	outboxColl *mongo.Collection
}

var (
	_ orderDomain.EventStore    = (*EventStoreMongoDB)(nil)
	_ orderDomain.StatsProvider = (*EventStoreMongoDB)(nil)
)

func NewEventStoreMongoDB(ctx context.Context, client *mongo.Client, dbName string) (*EventStoreMongoDB, error) {
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not ping mongoDB: %w", err)
	}

	db := client.Database(dbName)
	return &EventStoreMongoDB{
		client:     client,
		eventsColl: db.Collection(EventsCollection),
		outboxColl: db.Collection(sharedMongo.OutboxCollection),
	}, nil
}

// InitSchema crea los índices que necesita el store.
func (s *EventStoreMongoDB) InitSchema(ctx context.Context) error {
	_, err := s.eventsColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "aggregateId", Value: 1}, {Key: "version", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_aggregate_version"),
	})
	if err != nil {
		return fmt.Errorf("create events index: %w", err)
	}
	_, err = s.outboxColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "processed", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	return err
}

// --- Structs de BSON para el mapeo ---

type mongoEvent struct {
	AggregateID string    `bson:"aggregateId"`
	Version     int       `bson:"version"`
	Kind        string    `bson:"kind"`
	Payload     string    `bson:"payload"`
	RecordedAt  time.Time `bson:"recordedAt"`
}

// --- Escritura ---

func (s *EventStoreMongoDB) Append(ctx context.Context, evt orderDomain.Event, expectedVersion int) (orderDomain.Event, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return orderDomain.Event{}, err
	}
	defer session.EndSession(ctx)

	var current int
	res, err := session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		// 1. Versión actual del stream
		v, err := s.maxVersion(sessCtx, evt.AggregateID)
		if err != nil {
			return nil, err
		}
		current = v

		stored, err := orderDomain.PrepareAppend(evt, expectedVersion, current)
		if err != nil {
			return nil, err
		}
		doc, err := toMongoEvent(stored)
		if err != nil {
			return nil, err
		}

		// 2. Insertar el evento
		if _, err := s.eventsColl.InsertOne(sessCtx, doc); err != nil {
			return nil, err
		}

		// 3. Insertar el evento de outbox
		out, err := orderDomain.NewOutboxEvent(stored)
		if err != nil {
			return nil, err
		}
		mo, err := sharedMongo.ToMongoOutboxEvent(out)
		if err != nil {
			return nil, err
		}
		if _, err := s.outboxColl.InsertOne(sessCtx, mo); err != nil {
			return nil, err
		}
		return stored, nil
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return orderDomain.Event{}, &orderDomain.ConcurrencyConflictError{AggregateID: evt.AggregateID, Expected: current, Actual: current + 1}
		}
		return orderDomain.Event{}, err
	}
	return res.(orderDomain.Event), nil
}

func (s *EventStoreMongoDB) maxVersion(ctx context.Context, aggregateID string) (int, error) {
	opts := options.FindOne().
		SetSort(bson.D{{Key: "version", Value: -1}}).
		SetProjection(bson.M{"version": 1})

	var doc struct {
		Version int `bson:"version"`
	}
	err := s.eventsColl.FindOne(ctx, bson.M{"aggregateId": aggregateID}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return doc.Version, nil
}

// --- Lectura ---

func (s *EventStoreMongoDB) ReadAll(ctx context.Context, aggregateID string) ([]orderDomain.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})
	return s.find(ctx, bson.M{"aggregateId": aggregateID}, opts)
}

func (s *EventStoreMongoDB) ReadEverything(ctx context.Context) ([]orderDomain.Event, error) {
	opts := options.Find().SetSort(bson.D{{Key: "aggregateId", Value: 1}, {Key: "version", Value: 1}})
	return s.find(ctx, bson.M{}, opts)
}

func (s *EventStoreMongoDB) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]orderDomain.Event, error) {
	cursor, err := s.eventsColl.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	events := []orderDomain.Event{}
	for cursor.Next(ctx) {
		var doc mongoEvent
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		evt, err := fromMongoEvent(&doc)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, cursor.Err()
}

// --- Stats ---

func (s *EventStoreMongoDB) Stats(ctx context.Context) (orderDomain.StoreStats, error) {
	stats := orderDomain.StoreStats{EventsByKind: map[string]int64{}}

	cursor, err := s.eventsColl.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$kind"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "last", Value: bson.D{{Key: "$max", Value: "$recordedAt"}}},
		}}},
	})
	if err != nil {
		return orderDomain.StoreStats{}, err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var row struct {
			Kind  string    `bson:"_id"`
			Count int64     `bson:"count"`
			Last  time.Time `bson:"last"`
		}
		if err := cursor.Decode(&row); err != nil {
			return orderDomain.StoreStats{}, err
		}
		stats.EventsByKind[row.Kind] = row.Count
		stats.TotalEvents += row.Count
		if last := row.Last.UTC(); stats.LastEventAt == nil || last.After(*stats.LastEventAt) {
			stats.LastEventAt = &last
		}
	}
	if err := cursor.Err(); err != nil {
		return orderDomain.StoreStats{}, err
	}

	ids, err := s.eventsColl.Distinct(ctx, "aggregateId", bson.M{})
	if err != nil {
		return orderDomain.StoreStats{}, err
	}
	stats.TotalOrders = int64(len(ids))
	return stats, nil
}

// --- Helpers de Mapeo y Conversión ---

func toMongoEvent(e orderDomain.Event) (*mongoEvent, error) {
	payload, err := orderDomain.EncodePayload(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode event %s/%d: %w", e.AggregateID, e.Version, err)
	}
	return &mongoEvent{
		AggregateID: e.AggregateID,
		Version:     e.Version,
		Kind:        string(e.Kind()),
		Payload:     string(payload),
		RecordedAt:  e.Timestamp.UTC(),
	}, nil
}

func fromMongoEvent(doc *mongoEvent) (orderDomain.Event, error) {
	return orderDomain.FromEnvelope(orderDomain.EventEnvelope{
		AggregateID: doc.AggregateID,
		Version:     doc.Version,
		Kind:        doc.Kind,
		Timestamp:   doc.RecordedAt.UTC().Format(time.RFC3339Nano),
		Payload:     json.RawMessage(doc.Payload),
	})
}
