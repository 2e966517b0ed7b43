package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const defaultMongoDatabase = "myblog"

type mongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	posts    *mongo.Collection
	sessions *mongo.Collection
	tel      *telemetry
}

type mongoSession struct {
	ID        string    `bson:"_id"`
	Data      string    `bson:"data"`
	ExpiresAt time.Time `bson:"expires_at"`
}

// mongoDatabaseName takes the database from the URI path.
func mongoDatabaseName(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return defaultMongoDatabase
	}
	if name := strings.Trim(u.Path, "/"); name != "" {
		return name
	}
	return defaultMongoDatabase
}

func openMongoStore(ctx context.Context, uri string, tel *telemetry) (*mongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	if tel == nil {
		tel = newTelemetry(nil, 0)
	}

	db := client.Database(mongoDatabaseName(uri))
	s := &mongoStore{
		client:   client,
		users:    db.Collection("users"),
		posts:    db.Collection("posts"),
		sessions: db.Collection("sessions"),
		tel:      tel,
	}

	if err := s.ensureIndexes(ctx); err != nil {
		client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *mongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("creating users.name index: %w", err)
	}

	if _, err := s.posts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "slug", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "author_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("creating posts indexes: %w", err)
	}

	if _, err := s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	}); err != nil {
		return fmt.Errorf("creating sessions ttl index: %w", err)
	}
	return nil
}

func (s *mongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *mongoStore) observe(ctx context.Context, operation string) (context.Context, func(error)) {
	return s.tel.observe(ctx, "mongodb", operation)
}

func (s *mongoStore) CreateUser(ctx context.Context, user *User) (err error) {
	ctx, done := s.observe(ctx, "users.insert")
	defer func() { done(err) }()

	if _, err = s.users.InsertOne(ctx, user); err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (s *mongoStore) findUser(ctx context.Context, operation string, filter bson.M) (user *User, err error) {
	ctx, done := s.observe(ctx, operation)
	defer func() { done(err) }()

	var u User
	err = s.users.FindOne(ctx, filter).Decode(&u)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decoding user: %w", err)
	}
	return &u, nil
}

func (s *mongoStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.findUser(ctx, "users.findOne", bson.M{"_id": id})
}

func (s *mongoStore) GetUserByName(ctx context.Context, name string) (*User, error) {
	return s.findUser(ctx, "users.findOneByName", bson.M{"name": name})
}

func (s *mongoStore) CreatePost(ctx context.Context, post *Post) (err error) {
	ctx, done := s.observe(ctx, "posts.insert")
	defer func() { done(err) }()

	if _, err = s.posts.InsertOne(ctx, post); err != nil {
		return fmt.Errorf("inserting post: %w", err)
	}
	return nil
}

func (s *mongoStore) findPost(ctx context.Context, operation string, filter bson.M) (post *Post, err error) {
	ctx, done := s.observe(ctx, operation)
	defer func() { done(err) }()

	var p Post
	err = s.posts.FindOne(ctx, filter).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decoding post: %w", err)
	}
	return &p, nil
}

func (s *mongoStore) GetPostByID(ctx context.Context, id string) (*Post, error) {
	return s.findPost(ctx, "posts.findOne", bson.M{"_id": id})
}

func (s *mongoStore) GetPostBySlug(ctx context.Context, slug string) (*Post, error) {
	return s.findPost(ctx, "posts.findOneBySlug", bson.M{"slug": slug})
}

func (s *mongoStore) GetPosts(ctx context.Context, authorID string) (posts []Post, err error) {
	ctx, done := s.observe(ctx, "posts.find")
	defer func() { done(err) }()

	filter := bson.M{}
	if authorID != "" {
		filter["author_id"] = authorID
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})

	cursor, err := s.posts.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("finding posts: %w", err)
	}
	if err = cursor.All(ctx, &posts); err != nil {
		return nil, fmt.Errorf("decoding posts: %w", err)
	}
	return posts, nil
}

func (s *mongoStore) UpdatePost(ctx context.Context, id, title, content, slug string) (err error) {
	ctx, done := s.observe(ctx, "posts.update")
	defer func() { done(err) }()

	update := bson.M{"$set": bson.M{"title": title, "content": content, "slug": slug}}
	if _, err = s.posts.UpdateOne(ctx, bson.M{"_id": id}, update); err != nil {
		return fmt.Errorf("updating post: %w", err)
	}
	return nil
}

func (s *mongoStore) DeletePost(ctx context.Context, id string) (err error) {
	ctx, done := s.observe(ctx, "posts.delete")
	defer func() { done(err) }()

	if _, err = s.posts.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("deleting post: %w", err)
	}
	return nil
}

func (s *mongoStore) SlugExists(ctx context.Context, slug, excludeID string) (exists bool, err error) {
	ctx, done := s.observe(ctx, "posts.slugExists")
	defer func() { done(err) }()

	filter := bson.M{"slug": slug}
	if excludeID != "" {
		filter["_id"] = bson.M{"$ne": excludeID}
	}

	count, err := s.posts.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("counting slugs: %w", err)
	}
	return count > 0, nil
}

// Sessions are stored as JSON strings with a TTL index on expires_at, the
// same shape connect-style session stores use.
func (s *mongoStore) LoadSession(ctx context.Context, id string) (session *Session, err error) {
	ctx, done := s.observe(ctx, "sessions.findOne")
	defer func() { done(err) }()

	var doc mongoSession
	err = s.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	// The TTL monitor runs once a minute, so expired documents can linger.
	if !doc.ExpiresAt.After(time.Now()) {
		return nil, nil
	}
	return decodeSession(doc.Data)
}

func (s *mongoStore) SaveSession(ctx context.Context, session *Session) (err error) {
	ctx, done := s.observe(ctx, "sessions.upsert")
	defer func() { done(err) }()

	data, err := encodeSession(session)
	if err != nil {
		return err
	}

	doc := mongoSession{ID: session.ID, Data: data, ExpiresAt: session.ExpiresAt.UTC()}
	opts := options.Replace().SetUpsert(true)
	if _, err = s.sessions.ReplaceOne(ctx, bson.M{"_id": session.ID}, doc, opts); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *mongoStore) DeleteSession(ctx context.Context, id string) (err error) {
	ctx, done := s.observe(ctx, "sessions.delete")
	defer func() { done(err) }()

	if _, err = s.sessions.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
