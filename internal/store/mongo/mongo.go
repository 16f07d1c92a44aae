// Package mongo implements store.Store on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/ingeniumai/outreach/internal/models"
	"github.com/ingeniumai/outreach/internal/secrets"
	"github.com/ingeniumai/outreach/internal/store"
)

const (
	usersCollection    = "users"
	messagesCollection = "usermails"
)

// Store is a MongoDB backed store.Store.
type Store struct {
	client   *mongo.Client
	users    *mongo.Collection
	messages *mongo.Collection
	cipher   *secrets.Cipher
}

var _ store.Store = (*Store)(nil)

// Open connects to uri, selects database and creates indexes.
func Open(ctx context.Context, uri, database string, cipher *secrets.Cipher) (*Store, error) {
	const op = "mongo.Open"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Store{
		client:   client,
		users:    db.Collection(usersCollection),
		messages: db.Collection(messagesCollection),
		cipher:   cipher,
	}
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

// EnsureIndexes creates the lookup indexes used by the queries below.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "google_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "email", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create user indexes: %w", err)
	}
	_, err = s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "sent_at", Value: -1}}},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "sent_at", Value: 1}}},
		{Keys: bson.D{{Key: "sender_email", Value: 1}, {Key: "recipient_email", Value: 1}}},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "external_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}
	return nil
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// UpsertGoogleUser creates or refreshes the user identified by profile.GoogleID.
func (s *Store) UpsertGoogleUser(ctx context.Context, profile store.GoogleProfile, tokens models.Tokens, now time.Time) (*models.User, error) {
	sealed, err := s.cipher.SealTokens(tokens)
	if err != nil {
		return nil, fmt.Errorf("seal tokens: %w", err)
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	res := s.users.FindOneAndUpdate(ctx,
		bson.M{"google_id": profile.GoogleID},
		userUpsertUpdate(profile, sealed, tokens.Expiry, now, uuid.NewString()),
		opts,
	)
	var u models.User
	if err := res.Decode(&u); err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	if err := s.cipher.OpenUser(&u); err != nil {
		return nil, fmt.Errorf("open tokens: %w", err)
	}
	return &u, nil
}

// userUpsertUpdate builds the update document for a login. Empty tokens
// leave the stored ones untouched.
func userUpsertUpdate(profile store.GoogleProfile, sealed models.Tokens, expiry, now time.Time, newID string) bson.M {
	set := bson.M{
		"name":       profile.Name,
		"email":      profile.Email,
		"picture":    profile.Picture,
		"last_login": now,
	}
	for k, v := range tokenFields(sealed, expiry) {
		set[k] = v
	}
	return bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"_id":               newID,
			"google_id":         profile.GoogleID,
			"profile_completed": false,
			"created_at":        now,
		},
	}
}

func tokenFields(sealed models.Tokens, expiry time.Time) bson.M {
	fields := bson.M{}
	if sealed.AccessToken != "" {
		fields["access_token"] = sealed.AccessToken
		fields["token_expiry"] = expiry
	}
	if sealed.RefreshToken != "" {
		fields["refresh_token"] = sealed.RefreshToken
	}
	if sealed.Scopes != "" {
		fields["scopes"] = sealed.Scopes
	}
	return fields
}

// UserByID returns the user with the given internal id.
func (s *Store) UserByID(ctx context.Context, id string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"_id": id})
}

// UserByGoogleID returns the user with the given Google subject.
func (s *Store) UserByGoogleID(ctx context.Context, googleID string) (*models.User, error) {
	return s.findUser(ctx, bson.M{"google_id": googleID})
}

func (s *Store) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	err := s.users.FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if err := s.cipher.OpenUser(&u); err != nil {
		return nil, fmt.Errorf("open tokens: %w", err)
	}
	return &u, nil
}

// UpdateTokens writes back a refreshed token pair.
func (s *Store) UpdateTokens(ctx context.Context, userID string, tokens models.Tokens) error {
	sealed, err := s.cipher.SealTokens(tokens)
	if err != nil {
		return fmt.Errorf("seal tokens: %w", err)
	}
	fields := tokenFields(sealed, tokens.Expiry)
	if len(fields) == 0 {
		return nil
	}
	return s.updateUser(ctx, userID, bson.M{"$set": fields})
}

// UpdateProfile stores profile details and the completed flag.
func (s *Store) UpdateProfile(ctx context.Context, userID string, details map[string]any, completed bool) (*models.User, error) {
	if details == nil {
		details = map[string]any{}
	}
	set := bson.M{"profile_details": details}
	if completed {
		set["profile_completed"] = true
	}
	err := s.updateUser(ctx, userID, bson.M{"$set": set})
	if err != nil {
		return nil, err
	}
	return s.UserByID(ctx, userID)
}

// UpdateProfileType stores the chosen profile type.
func (s *Store) UpdateProfileType(ctx context.Context, userID string, profileType models.ProfileType) (*models.User, error) {
	if err := s.updateUser(ctx, userID, bson.M{"$set": bson.M{"profile_type": profileType}}); err != nil {
		return nil, err
	}
	return s.UserByID(ctx, userID)
}

func (s *Store) updateUser(ctx context.Context, id string, update bson.M) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}
