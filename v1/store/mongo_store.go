package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/faithconnect/member-service/v1/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MembersCollection is the collection holding member documents
const MembersCollection = "members"

// MongoStore keeps one document per member in a MongoDB collection. Multi
// document transactions need a replica set or sharded cluster.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	policy     RetryPolicy
}

// ConnectMongo opens a client, verifies the connection and ensures indexes
func ConnectMongo(ctx context.Context, uri, database string, policy RetryPolicy) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	s := NewMongoStore(client, database, policy)
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// NewMongoStore wraps an existing client
func NewMongoStore(client *mongo.Client, database string, policy RetryPolicy) *MongoStore {
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(MembersCollection),
		policy:     policy,
	}
}

// EnsureIndexes creates the unique (churchId, memberId) index and the lookup
// index on linked accounts
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "churchId", Value: 1}, {Key: "memberId", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("church_member_unique"),
		},
		{
			Keys:    bson.D{{Key: "churchId", Value: 1}, {Key: "userId", Value: 1}},
			Options: options.Index().SetName("church_user"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create member indexes: %w", err)
	}
	return nil
}

// Name returns the backend name
func (s *MongoStore) Name() string {
	return "mongo"
}

// Ping checks the connection to the primary
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// RunInTransaction runs fn inside a MongoDB session transaction
func (s *MongoStore) RunInTransaction(ctx context.Context, churchID string, fn func(tx Tx) error) error {
	return RetryTransaction(ctx, s.policy, func() error {
		session, err := s.client.StartSession()
		if err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
		defer session.EndSession(ctx)

		_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
			return nil, fn(&mongoTx{ctx: sc, coll: s.collection, churchID: churchID})
		})
		return err
	})
}

// GetMember reads one member outside a transaction
func (s *MongoStore) GetMember(ctx context.Context, churchID, memberID string) (*models.Member, error) {
	return (&mongoTx{ctx: ctx, coll: s.collection, churchID: churchID}).GetMember(memberID)
}

// ListMembers returns the church's members sorted by name
func (s *MongoStore) ListMembers(ctx context.Context, churchID string, filter models.MemberFilter) ([]models.Member, error) {
	query := bson.M{"churchId": churchID}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.UserID != "" {
		query["userId"] = filter.UserID
	}
	if filter.Email != "" {
		query["email"] = bson.M{"$regex": "^" + regexp.QuoteMeta(filter.Email) + "$", "$options": "i"}
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := bson.M{"$regex": regexp.QuoteMeta(q), "$options": "i"}
		query["$or"] = bson.A{
			bson.M{"firstName": pattern},
			bson.M{"lastName": pattern},
			bson.M{"email": pattern},
		}
	}

	opts := options.Find().SetSort(bson.D{
		{Key: "lastName", Value: 1},
		{Key: "firstName", Value: 1},
		{Key: "memberId", Value: 1},
	})
	return findMembers(ctx, s.collection, query, opts)
}

type mongoTx struct {
	ctx      context.Context
	coll     *mongo.Collection
	churchID string
}

func (t *mongoTx) key(memberID string) bson.M {
	return bson.M{"churchId": t.churchID, "memberId": memberID}
}

func (t *mongoTx) GetMember(memberID string) (*models.Member, error) {
	var member models.Member
	if err := t.coll.FindOne(t.ctx, t.key(memberID)).Decode(&member); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get member %s: %w", memberID, err)
	}
	return &member, nil
}

func (t *mongoTx) GetMembers(memberIDs []string) (map[string]*models.Member, error) {
	ids := uniqueIDs(memberIDs)
	result := make(map[string]*models.Member, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	members, err := findMembers(t.ctx, t.coll, bson.M{"churchId": t.churchID, "memberId": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	for i := range members {
		result[members[i].MemberID] = &members[i]
	}
	return result, nil
}

func (t *mongoTx) ListMembers() ([]models.Member, error) {
	return findMembers(t.ctx, t.coll, bson.M{"churchId": t.churchID},
		options.Find().SetSort(bson.D{{Key: "memberId", Value: 1}}))
}

func (t *mongoTx) CreateMember(member *models.Member) error {
	member.ChurchID = t.churchID
	member.Version = 1
	if member.Relationships == nil {
		member.Relationships = models.Relationships{}
	}
	member.Touch(true)

	if _, err := t.coll.InsertOne(t.ctx, member); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}

func (t *mongoTx) SaveMember(member *models.Member) error {
	expected := member.Version
	next := member.Clone()
	next.ChurchID = t.churchID
	next.Version = expected + 1
	next.Touch(false)
	if next.Relationships == nil {
		next.Relationships = models.Relationships{}
	}

	filter := t.key(member.MemberID)
	filter["version"] = expected
	res, err := t.coll.ReplaceOne(t.ctx, filter, next)
	if err != nil {
		return fmt.Errorf("failed to save member %s: %w", member.MemberID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s at version %d", ErrConflict, member.MemberID, expected)
	}

	member.Version = next.Version
	member.UpdatedAt = next.UpdatedAt
	return nil
}

func (t *mongoTx) DeleteMember(member *models.Member) error {
	filter := t.key(member.MemberID)
	filter["version"] = member.Version
	res, err := t.coll.DeleteOne(t.ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete member %s: %w", member.MemberID, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s at version %d", ErrConflict, member.MemberID, member.Version)
	}
	return nil
}

func findMembers(ctx context.Context, coll *mongo.Collection, filter bson.M, opts ...*options.FindOptions) ([]models.Member, error) {
	cursor, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer cursor.Close(ctx)

	members := make([]models.Member, 0)
	if err := cursor.All(ctx, &members); err != nil {
		return nil, fmt.Errorf("failed to decode members: %w", err)
	}
	return members, nil
}
