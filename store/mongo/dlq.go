package mongo

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/dlq"
	"github.com/pressline/conveyor/id"
)

// PushDLQ adds a dead lettered job entry.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	if _, err := s.db.Collection(colDLQ).InsertOne(ctx, toDLQModel(entry)); err != nil {
		return fmt.Errorf("conveyor/mongo: push dlq: %w", err)
	}
	return nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	var m dlqModel
	err := s.db.Collection(colDLQ).FindOne(ctx, bson.M{"_id": entryID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, conveyor.ErrDLQNotFound
		}
		return nil, fmt.Errorf("conveyor/mongo: get dlq: %w", err)
	}
	return fromDLQModel(&m)
}

// SearchDLQ returns entries matching the given options, newest failures
// first. The free-text query is a case-insensitive substring match
// against the job ID, the idempotency key, and the failure reason.
func (s *Store) SearchDLQ(ctx context.Context, opts dlq.SearchOpts) ([]*dlq.Entry, error) {
	filter := bson.M{}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	if opts.Query != "" {
		pattern := bson.M{"$regex": regexp.QuoteMeta(opts.Query), "$options": "i"}
		filter["$or"] = []bson.M{
			{"job_id": pattern},
			{"idempotency_key": pattern},
			{"reason": pattern},
		}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "failed_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.db.Collection(colDLQ).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: search dlq: %w", err)
	}
	defer cur.Close(ctx)

	var entries []*dlq.Entry
	for cur.Next(ctx) {
		var m dlqModel
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("conveyor/mongo: decode dlq: %w", err)
		}
		e, convErr := fromDLQModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		entries = append(entries, e)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/mongo: iterate dlq: %w", err)
	}
	return entries, nil
}

// MarkReplayed records the replay link on an entry.
func (s *Store) MarkReplayed(ctx context.Context, entryID id.DLQID, newJobID id.JobID, at time.Time) error {
	res, err := s.db.Collection(colDLQ).UpdateOne(ctx,
		bson.M{"_id": entryID.String()},
		bson.M{"$set": bson.M{
			"replayed_at": at.UTC(),
			"replayed_as": newJobID.String(),
		}},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: mark replayed: %w", err)
	}
	if res.MatchedCount == 0 {
		return conveyor.ErrDLQNotFound
	}
	return nil
}

// DeleteDLQ removes a single entry.
func (s *Store) DeleteDLQ(ctx context.Context, entryID id.DLQID) error {
	res, err := s.db.Collection(colDLQ).DeleteOne(ctx, bson.M{"_id": entryID.String()})
	if err != nil {
		return fmt.Errorf("conveyor/mongo: delete dlq: %w", err)
	}
	if res.DeletedCount == 0 {
		return conveyor.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes entries that failed at or before cutoff.
func (s *Store) PurgeDLQ(ctx context.Context, queue string, cutoff time.Time) (int64, error) {
	filter := bson.M{"failed_at": bson.M{"$lte": cutoff}}
	if queue != "" {
		filter["queue"] = queue
	}

	res, err := s.db.Collection(colDLQ).DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("conveyor/mongo: purge dlq: %w", err)
	}
	return res.DeletedCount, nil
}

// CountDLQ returns the number of entries for a queue, or all queues
// when queue is empty.
func (s *Store) CountDLQ(ctx context.Context, queue string) (int64, error) {
	filter := bson.M{}
	if queue != "" {
		filter["queue"] = queue
	}

	n, err := s.db.Collection(colDLQ).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("conveyor/mongo: count dlq: %w", err)
	}
	return n, nil
}
