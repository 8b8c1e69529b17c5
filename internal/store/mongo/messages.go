// Package mongo stores direct messages as documents in MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SocialChatServer/internal/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const messagesCollection = "messages"

// Connect dials uri and verifies the primary is reachable.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

type messageDoc struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	SenderID    string             `bson:"senderId"`
	ReceiverID  string             `bson:"receiverId"`
	Content     string             `bson:"content"`
	MessageType string             `bson:"messageType"`
	IsRead      bool               `bson:"isRead"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

func (d messageDoc) toDomain() domain.Message {
	return domain.Message{
		ID:          d.ID.Hex(),
		SenderID:    d.SenderID,
		ReceiverID:  d.ReceiverID,
		Content:     d.Content,
		MessageType: domain.MessageType(d.MessageType),
		IsRead:      d.IsRead,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

type MessagesStore struct {
	coll *mongo.Collection
}

func NewMessagesStore(db *mongo.Database) *MessagesStore {
	return &MessagesStore{coll: db.Collection(messagesCollection)}
}

// EnsureIndexes creates the conversation, unread and recency indexes.
func (s *MessagesStore) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "senderId", Value: 1}, {Key: "receiverId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "receiverId", Value: 1}, {Key: "isRead", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}
	return nil
}

func pairFilter(userA, userB string) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"senderId": userA, "receiverId": userB},
		bson.M{"senderId": userB, "receiverId": userA},
	}}
}

var newestFirst = bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}

func (s *MessagesStore) InsertMessage(ctx context.Context, m domain.Message) (domain.Message, error) {
	doc := messageDoc{
		SenderID:    m.SenderID,
		ReceiverID:  m.ReceiverID,
		Content:     m.Content,
		MessageType: string(m.MessageType),
		IsRead:      m.IsRead,
		CreatedAt:   m.CreatedAt.UTC().Truncate(time.Millisecond),
		UpdatedAt:   m.UpdatedAt.UTC().Truncate(time.Millisecond),
	}
	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}
	id, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return domain.Message{}, fmt.Errorf("insert message: unexpected id type %T", res.InsertedID)
	}
	doc.ID = id
	return doc.toDomain(), nil
}

func (s *MessagesStore) ListBetween(ctx context.Context, userA, userB string, page domain.Page) ([]domain.Message, error) {
	opts := options.Find().
		SetSort(newestFirst).
		SetSkip(int64(page.Offset())).
		SetLimit(int64(page.Limit))
	cur, err := s.coll.Find(ctx, pairFilter(userA, userB), opts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	out := make([]domain.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (s *MessagesStore) CountBetween(ctx context.Context, userA, userB string) (int64, error) {
	return s.count(ctx, "count messages", pairFilter(userA, userB))
}

func (s *MessagesStore) LatestBetween(ctx context.Context, userA, userB string) (domain.Message, error) {
	var doc messageDoc
	err := s.coll.FindOne(ctx, pairFilter(userA, userB), options.FindOne().SetSort(newestFirst)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Message{}, domain.ErrNotFound
		}
		return domain.Message{}, fmt.Errorf("latest message: %w", err)
	}
	return doc.toDomain(), nil
}

// MarkRead flags every unread message from senderID to receiverID and
// returns how many changed.
func (s *MessagesStore) MarkRead(ctx context.Context, senderID, receiverID string, when time.Time) (int64, error) {
	filter := bson.M{"senderId": senderID, "receiverId": receiverID, "isRead": false}
	update := bson.M{"$set": bson.M{"isRead": true, "updatedAt": when.UTC().Truncate(time.Millisecond)}}
	res, err := s.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return res.ModifiedCount, nil
}

func (s *MessagesStore) CountUnread(ctx context.Context, receiverID string) (int64, error) {
	return s.count(ctx, "count unread", bson.M{"receiverId": receiverID, "isRead": false})
}

func (s *MessagesStore) CountUnreadFrom(ctx context.Context, senderID, receiverID string) (int64, error) {
	return s.count(ctx, "count unread", bson.M{"senderId": senderID, "receiverId": receiverID, "isRead": false})
}

func (s *MessagesStore) CountSent(ctx context.Context, userID string) (int64, error) {
	return s.count(ctx, "count sent", bson.M{"senderId": userID})
}

func (s *MessagesStore) CountReceived(ctx context.Context, userID string) (int64, error) {
	return s.count(ctx, "count received", bson.M{"receiverId": userID})
}

func (s *MessagesStore) count(ctx context.Context, op string, filter bson.M) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// DeleteBySender removes messageID if senderID wrote it. Malformed ids and
// messages owned by someone else are both reported as not found.
func (s *MessagesStore) DeleteBySender(ctx context.Context, messageID, senderID string) error {
	oid, err := primitive.ObjectIDFromHex(messageID)
	if err != nil {
		return domain.ErrNotFound
	}
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid, "senderId": senderID})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeleteForUser removes every message userID sent or received.
func (s *MessagesStore) DeleteForUser(ctx context.Context, userID string) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{"$or": bson.A{
		bson.M{"senderId": userID},
		bson.M{"receiverId": userID},
	}})
	if err != nil {
		return 0, fmt.Errorf("delete user messages: %w", err)
	}
	return res.DeletedCount, nil
}
