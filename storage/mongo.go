package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

type MongoStore struct {
	uri    string
	dbName string
	logger *zap.Logger

	client  *mongo.Client
	tickets *mongo.Collection
	guilds  *mongo.Collection
}

func NewMongoStore(uri, dbName string, logger *zap.Logger) *MongoStore {
	return &MongoStore{uri: uri, dbName: dbName, logger: logger}
}

func (m *MongoStore) Init() error {
	if m.uri == "" || m.dbName == "" {
		return fmt.Errorf("database.mongodb.uri and database.mongodb.database must be set to use driver=mongodb")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(m.uri))
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	m.client = client
	db := client.Database(m.dbName)
	m.tickets = db.Collection("tickets")
	m.guilds = db.Collection("guild_configs")

	m.tickets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "channel_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	m.tickets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "status", Value: 1}, {Key: "last_activity", Value: 1}},
	})
	m.tickets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "guild_id", Value: 1}, {Key: "creator_id", Value: 1}, {Key: "status", Value: 1}},
	})
	m.guilds.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "guild_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})

	m.logger.Info("mongodb store initialised", zap.String("database", m.dbName))
	return nil
}

func (m *MongoStore) Close() error {
	if m.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func opCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, 5*time.Second)
}

func (m *MongoStore) InsertTicket(ctx context.Context, t *Ticket) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()
	_, err := m.tickets.InsertOne(ctx, t)
	return err
}

func (m *MongoStore) TicketByChannel(ctx context.Context, channelID string) (*Ticket, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var t Ticket
	err := m.tickets.FindOne(ctx, bson.M{"channel_id": channelID}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (m *MongoStore) findTickets(ctx context.Context, filter bson.M) ([]Ticket, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	cursor, err := m.tickets.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []Ticket
	return out, cursor.All(ctx, &out)
}

func (m *MongoStore) OpenTicketsByCreator(ctx context.Context, guildID, creatorID string) ([]Ticket, error) {
	return m.findTickets(ctx, bson.M{"guild_id": guildID, "creator_id": creatorID, "status": StatusOpen})
}

func (m *MongoStore) OpenTickets(ctx context.Context, guildID string) ([]Ticket, error) {
	return m.findTickets(ctx, bson.M{"guild_id": guildID, "status": StatusOpen})
}

func (m *MongoStore) StaleOpenTickets(ctx context.Context, guildID string, cutoff time.Time) ([]Ticket, error) {
	return m.findTickets(ctx, bson.M{
		"guild_id":      guildID,
		"status":        StatusOpen,
		"last_activity": bson.M{"$lt": cutoff},
	})
}

// conditionalUpdate runs a guarded FindOneAndUpdate. A guard miss is
// disambiguated with a second read: no record at all is ErrNotFound, a
// record in the wrong state comes back alongside ErrConflict.
func (m *MongoStore) conditionalUpdate(ctx context.Context, filter, update bson.M) (*Ticket, error) {
	c, cancel := opCtx(ctx)
	defer cancel()

	var t Ticket
	err := m.tickets.FindOneAndUpdate(c, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&t)
	if err == nil {
		return &t, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	current, ferr := m.TicketByChannel(ctx, filter["channel_id"].(string))
	if ferr != nil {
		return nil, ferr
	}
	return current, ErrConflict
}

func (m *MongoStore) ClaimTicket(ctx context.Context, channelID, actorID string, at time.Time) (*Ticket, error) {
	return m.conditionalUpdate(ctx,
		bson.M{"channel_id": channelID, "status": StatusOpen, "claimed_by": ""},
		bson.M{"$set": bson.M{"claimed_by": actorID, "claimed_at": at}},
	)
}

func (m *MongoStore) CloseTicket(ctx context.Context, channelID, closedBy, reason, transcript string, at time.Time) (*Ticket, error) {
	return m.conditionalUpdate(ctx,
		bson.M{"channel_id": channelID, "status": StatusOpen},
		bson.M{"$set": bson.M{
			"status":       StatusClosed,
			"closed_by":    closedBy,
			"close_reason": reason,
			"transcript":   transcript,
			"closed_at":    at,
		}},
	)
}

func (m *MongoStore) ReopenTicket(ctx context.Context, channelID string, at time.Time) (*Ticket, error) {
	return m.conditionalUpdate(ctx,
		bson.M{"channel_id": channelID, "status": StatusClosed},
		bson.M{
			"$set": bson.M{
				"status":        StatusOpen,
				"closed_by":     "",
				"close_reason":  "",
				"closed_at":     nil,
				"claimed_by":    "",
				"claimed_at":    nil,
				"last_activity": at,
			},
			"$inc": bson.M{"reopen_count": 1},
		},
	)
}

func (m *MongoStore) MarkDeleted(ctx context.Context, channelID string) (*Ticket, error) {
	return m.conditionalUpdate(ctx,
		bson.M{"channel_id": channelID, "status": bson.M{"$ne": StatusDeleted}},
		bson.M{"$set": bson.M{"status": StatusDeleted}},
	)
}

func (m *MongoStore) TransferTicket(ctx context.Context, channelID, newCreatorID string) (*Ticket, error) {
	return m.conditionalUpdate(ctx,
		bson.M{"channel_id": channelID, "status": bson.M{"$ne": StatusDeleted}},
		bson.M{"$set": bson.M{"creator_id": newCreatorID}},
	)
}

func (m *MongoStore) TouchActivity(ctx context.Context, channelID string, msg TicketMessage) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	_, err := m.tickets.UpdateOne(ctx,
		bson.M{"channel_id": channelID, "status": StatusOpen},
		bson.M{
			"$max":      bson.M{"last_activity": msg.Timestamp},
			"$addToSet": bson.M{"participants": msg.AuthorID},
			"$push": bson.M{"messages": bson.M{
				"$each":  []TicketMessage{msg},
				"$slice": -MessageHistoryCap,
			}},
		},
	)
	return err
}

func (m *MongoStore) CountTickets(ctx context.Context, since time.Time) (TicketCounts, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var counts TicketCounts
	var err error
	if counts.Total, err = m.tickets.CountDocuments(ctx, bson.M{"status": bson.M{"$ne": StatusDeleted}}); err != nil {
		return counts, err
	}
	if counts.Open, err = m.tickets.CountDocuments(ctx, bson.M{"status": StatusOpen}); err != nil {
		return counts, err
	}
	counts.ClosedSince, err = m.tickets.CountDocuments(ctx, bson.M{
		"status":    StatusClosed,
		"closed_at": bson.M{"$gte": since},
	})
	return counts, err
}

func (m *MongoStore) PurgeDeleted(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	res, err := m.tickets.DeleteMany(ctx, bson.M{
		"status":        StatusDeleted,
		"last_activity": bson.M{"$lt": olderThan},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (m *MongoStore) GetGuildConfig(ctx context.Context, guildID string) (*GuildConfig, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var gc GuildConfig
	err := m.guilds.FindOne(ctx, bson.M{"guild_id": guildID}).Decode(&gc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &gc, nil
}

func (m *MongoStore) SaveGuildConfig(ctx context.Context, gc *GuildConfig) error {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	gc.UpdatedAt = time.Now()
	_, err := m.guilds.ReplaceOne(ctx,
		bson.M{"guild_id": gc.GuildID},
		gc,
		options.Replace().SetUpsert(true),
	)
	return err
}

func (m *MongoStore) NextTicketNumber(ctx context.Context, guildID string) (int, error) {
	ctx, cancel := opCtx(ctx)
	defer cancel()

	var gc GuildConfig
	err := m.guilds.FindOneAndUpdate(ctx,
		bson.M{"guild_id": guildID},
		bson.M{"$inc": bson.M{"ticket_counter": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&gc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return gc.TicketCounter, nil
}

func (m *MongoStore) AutoCloseGuilds(ctx context.Context) ([]GuildConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cursor, err := m.guilds.Find(ctx, bson.M{"auto_close.enabled": true})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []GuildConfig
	return out, cursor.All(ctx, &out)
}
