// Package mongostore keeps readings and users in MongoDB, using the same collection
// and field names the dashboards were first written against.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"smartmeter/internal/model"
	"smartmeter/internal/repository"
)

const (
	readingsCollection = "readings"
	usersCollection    = "users"
)

type readingDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Value     float64            `bson:"value"`
	Raw       *float64           `bson:"raw,omitempty"`
	Pre       *float64           `bson:"pre,omitempty"`
	Error     *string            `bson:"error,omitempty"`
	Rate      *float64           `bson:"rate,omitempty"`
	Timestamp time.Time          `bson:"timestamp"`
	DeviceIP  string             `bson:"device_ip"`
}

type userDoc struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	Username        string             `bson:"username"`
	Password        string             `bson:"password"`
	Role            string             `bson:"role"`
	AssignedDevices []string           `bson:"assignedDevices"`
	CreatedAt       time.Time          `bson:"createdAt"`
}

type Store struct {
	client   *mongo.Client
	readings *mongo.Collection
	users    *mongo.Collection
}

// Connect dials uri, pings the primary and makes sure the indexes exist.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	db := client.Database(database)
	store := &Store{
		client: client,
		// Readings are acknowledged by a majority of the replica set.
		readings: db.Collection(readingsCollection, options.Collection().SetWriteConcern(writeconcern.Majority())),
		users:    db.Collection(usersCollection),
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return store, nil
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users index: %w", err)
	}
	_, err = s.readings.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "device_ip", Value: 1}, {Key: "timestamp", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("readings index: %w", err)
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) InsertReading(ctx context.Context, reading model.Reading) (string, error) {
	doc := toReadingDoc(reading)
	doc.ID = primitive.NewObjectID()
	if _, err := s.readings.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	return doc.ID.Hex(), nil
}

func (s *Store) LatestReadingPerDevice(ctx context.Context) ([]model.Reading, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$sort", Value: bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: 1}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$device_ip"},
			{Key: "latest", Value: bson.D{{Key: "$first", Value: "$$ROOT"}}},
		}}},
		{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$latest"}}}},
		{{Key: "$sort", Value: bson.D{{Key: "device_ip", Value: 1}}}},
	}
	cursor, err := s.readings.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	return decodeReadings(ctx, cursor)
}

func (s *Store) LatestReading(ctx context.Context, deviceIP string) (model.Reading, error) {
	var doc readingDoc
	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}})
	if err := s.readings.FindOne(ctx, bson.M{"device_ip": deviceIP}, opts).Decode(&doc); err != nil {
		return model.Reading{}, translate(err)
	}
	return doc.toModel(), nil
}

func (s *Store) ReadingsBetween(ctx context.Context, deviceIP string, from, to time.Time) ([]model.Reading, error) {
	filter := bson.M{
		"device_ip": deviceIP,
		"timestamp": bson.M{"$gte": from, "$lt": to},
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.readings.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return decodeReadings(ctx, cursor)
}

func (s *Store) CreateUser(ctx context.Context, user model.User) (model.User, error) {
	doc := toUserDoc(user)
	doc.ID = primitive.NewObjectID()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		return model.User{}, translate(err)
	}
	return doc.toModel(), nil
}

func (s *Store) GetUserByID(ctx context.Context, userID string) (model.User, error) {
	id, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return model.User{}, repository.ErrNotFound
	}
	return s.findUser(ctx, bson.M{"_id": id})
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	return s.findUser(ctx, bson.M{"username": username})
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (model.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		return model.User{}, translate(err)
	}
	return doc.toModel(), nil
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	cursor, err := s.users.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	users := make([]model.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, doc.toModel())
	}
	return users, nil
}

func (s *Store) UpdateUser(ctx context.Context, userID string, update repository.UserUpdate) (model.User, error) {
	id, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return model.User{}, repository.ErrNotFound
	}
	set := bson.D{}
	if update.Username != nil {
		set = append(set, bson.E{Key: "username", Value: *update.Username})
	}
	if update.PasswordHash != nil {
		set = append(set, bson.E{Key: "password", Value: *update.PasswordHash})
	}
	if update.Role != nil {
		set = append(set, bson.E{Key: "role", Value: string(*update.Role)})
	}
	if update.AssignedDevices != nil {
		devices := append([]string{}, (*update.AssignedDevices)...)
		set = append(set, bson.E{Key: "assignedDevices", Value: devices})
	}
	if len(set) == 0 {
		return s.findUser(ctx, bson.M{"_id": id})
	}
	var doc userDoc
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err = s.users.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.D{{Key: "$set", Value: set}}, opts).Decode(&doc)
	if err != nil {
		return model.User{}, translate(err)
	}
	return doc.toModel(), nil
}

func (s *Store) DeleteUser(ctx context.Context, userID string) (bool, error) {
	id, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return false, nil
	}
	result, err := s.users.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return false, err
	}
	return result.DeletedCount > 0, nil
}

func translate(err error) error {
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return repository.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return repository.ErrDuplicateUsername
	default:
		return err
	}
}

func decodeReadings(ctx context.Context, cursor *mongo.Cursor) ([]model.Reading, error) {
	defer cursor.Close(ctx)
	var docs []readingDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	readings := make([]model.Reading, 0, len(docs))
	for _, doc := range docs {
		readings = append(readings, doc.toModel())
	}
	return readings, nil
}

func toReadingDoc(r model.Reading) readingDoc {
	return readingDoc{
		Value:     r.Value,
		Raw:       r.Raw,
		Pre:       r.Pre,
		Error:     r.Error,
		Rate:      r.Rate,
		Timestamp: r.Timestamp.UTC(),
		DeviceIP:  r.DeviceIP,
	}
}

func (d readingDoc) toModel() model.Reading {
	return model.Reading{
		ID:        d.ID.Hex(),
		Value:     d.Value,
		Raw:       d.Raw,
		Pre:       d.Pre,
		Error:     d.Error,
		Rate:      d.Rate,
		Timestamp: d.Timestamp.UTC(),
		DeviceIP:  d.DeviceIP,
	}
}

func toUserDoc(u model.User) userDoc {
	devices := u.AssignedDevices
	if devices == nil {
		devices = []string{}
	}
	return userDoc{
		Username:        u.Username,
		Password:        u.PasswordHash,
		Role:            string(u.Role),
		AssignedDevices: devices,
		CreatedAt:       u.CreatedAt,
	}
}

func (d userDoc) toModel() model.User {
	devices := d.AssignedDevices
	if devices == nil {
		devices = []string{}
	}
	return model.User{
		ID:              d.ID.Hex(),
		Username:        d.Username,
		PasswordHash:    d.Password,
		Role:            model.Role(d.Role),
		AssignedDevices: devices,
		CreatedAt:       d.CreatedAt,
	}
}
