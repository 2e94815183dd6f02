package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pressline/conveyor"
	"github.com/pressline/conveyor/id"
	"github.com/pressline/conveyor/job"
)

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	if _, err := s.db.Collection(colJobs).InsertOne(ctx, m); err != nil {
		if isDuplicateKey(err) {
			return conveyor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conveyor/mongo: create job: %w", err)
	}
	return s.TouchQueue(ctx, j.Queue)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, bson.M{"_id": jobID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/mongo: get job: %w", err)
	}
	return fromJobModel(&m)
}

// FindJobByIdempotencyKey returns the job holding the key on the queue.
// Dead lettered and cancelled jobs release their key.
func (s *Store) FindJobByIdempotencyKey(ctx context.Context, queue, key string) (*job.Job, error) {
	filter := bson.M{
		"queue":           queue,
		"idempotency_key": key,
		"state": bson.M{"$nin": []string{
			string(job.StateDeadLettered),
			string(job.StateFailed),
		}},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})

	var m jobModel
	err := s.db.Collection(colJobs).FindOne(ctx, filter, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, conveyor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conveyor/mongo: find job by idempotency key: %w", err)
	}
	return fromJobModel(&m)
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	m.UpdatedAt = now()

	res, err := s.db.Collection(colJobs).ReplaceOne(ctx, bson.M{"_id": m.ID}, m)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: update job: %w", err)
	}
	if res.MatchedCount == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.Collection(colJobs).DeleteOne(ctx, bson.M{"_id": jobID.String()})
	if err != nil {
		return fmt.Errorf("conveyor/mongo: delete job: %w", err)
	}
	if res.DeletedCount == 0 {
		return conveyor.ErrJobNotFound
	}
	return nil
}

// LeaseJobs atomically claims up to limit leasable jobs from the given
// queues. Each claim goes through FindOneAndUpdate so no two workers
// ever hold the same job. Paused queues are excluded up front.
func (s *Store) LeaseJobs(ctx context.Context, queues []string, workerID id.WorkerID, limit int, leaseFor time.Duration) ([]*job.Job, error) {
	t := now()
	expires := t.Add(leaseFor)
	col := s.db.Collection(colJobs)

	paused, err := s.pausedQueues(ctx)
	if err != nil {
		return nil, err
	}

	filter := bson.M{
		"state": bson.M{"$in": []string{
			string(job.StateWaiting),
			string(job.StateDelayed),
		}},
		"available_at": bson.M{"$lte": t},
	}
	if len(queues) > 0 {
		filter["queue"] = bson.M{"$in": queues, "$nin": paused}
	} else if len(paused) > 0 {
		filter["queue"] = bson.M{"$nin": paused}
	}

	update := bson.M{
		"$set": bson.M{
			"state":            string(job.StateActive),
			"worker_id":        workerID.String(),
			"started_at":       t,
			"lease_expires_at": expires,
			"updated_at":       t,
		},
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{
			{Key: "priority", Value: 1},
			{Key: "available_at", Value: 1},
			{Key: "created_at", Value: 1},
		})

	jobs := make([]*job.Job, 0, max(limit, 0))
	for i := 0; limit <= 0 || i < limit; i++ {
		var m jobModel
		err := col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&m)
		if err != nil {
			if isNoDocuments(err) {
				break
			}
			return nil, fmt.Errorf("conveyor/mongo: lease jobs: %w", err)
		}

		j, convErr := fromJobModel(&m)
		if convErr != nil {
			return nil, fmt.Errorf("conveyor/mongo: lease convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// pausedQueues returns the names of all currently paused queues.
func (s *Store) pausedQueues(ctx context.Context) ([]string, error) {
	cur, err := s.db.Collection(colQueues).Find(ctx, bson.M{"paused": true})
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: paused queues: %w", err)
	}
	defer cur.Close(ctx)

	var names []string
	for cur.Next(ctx) {
		var q queueModel
		if err := cur.Decode(&q); err != nil {
			return nil, fmt.Errorf("conveyor/mongo: decode queue: %w", err)
		}
		names = append(names, q.Name)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/mongo: iterate queues: %w", err)
	}
	return names, nil
}

// ExtendLease pushes the lease expiry of an active job owned by workerID.
func (s *Store) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, until time.Time) error {
	res, err := s.db.Collection(colJobs).UpdateOne(ctx,
		bson.M{
			"_id":       jobID.String(),
			"state":     string(job.StateActive),
			"worker_id": workerID.String(),
		},
		bson.M{"$set": bson.M{
			"lease_expires_at": until.UTC(),
			"updated_at":       now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: extend lease: %w", err)
	}
	if res.MatchedCount == 0 {
		n, cErr := s.db.Collection(colJobs).CountDocuments(ctx, bson.M{"_id": jobID.String()})
		if cErr != nil {
			return fmt.Errorf("conveyor/mongo: extend lease: %w", cErr)
		}
		if n == 0 {
			return conveyor.ErrJobNotFound
		}
		return conveyor.ErrLeaseLost
	}
	return nil
}

// ExpiredLeases returns active jobs whose lease has lapsed, soonest
// expired first.
func (s *Store) ExpiredLeases(ctx context.Context, limit int) ([]*job.Job, error) {
	filter := bson.M{
		"state":            string(job.StateActive),
		"lease_expires_at": bson.M{"$lte": now()},
	}
	opts := options.Find().SetSort(bson.D{{Key: "lease_expires_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.db.Collection(colJobs).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: expired leases: %w", err)
	}
	return collectJobs(ctx, cur)
}

// ListJobs returns jobs matching the given options, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	filter := bson.M{}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.db.Collection(colJobs).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: list jobs: %w", err)
	}
	return collectJobs(ctx, cur)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	filter := bson.M{}
	if opts.Queue != "" {
		filter["queue"] = opts.Queue
	}
	if opts.State != "" {
		filter["state"] = string(opts.State)
	}

	n, err := s.db.Collection(colJobs).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("conveyor/mongo: count jobs: %w", err)
	}
	return n, nil
}

// CountJobsByState returns per-state counts for one queue, or all
// queues combined when queue is empty.
func (s *Store) CountJobsByState(ctx context.Context, queue string) (map[job.State]int64, error) {
	match := bson.M{}
	if queue != "" {
		match["queue"] = queue
	}

	cur, err := s.db.Collection(colJobs).Aggregate(ctx, []bson.M{
		{"$match": match},
		{"$group": bson.M{"_id": "$state", "n": bson.M{"$sum": 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: count jobs by state: %w", err)
	}
	defer cur.Close(ctx)

	counts := make(map[job.State]int64)
	for cur.Next(ctx) {
		var row struct {
			State string `bson:"_id"`
			N     int64  `bson:"n"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("conveyor/mongo: decode state count: %w", err)
		}
		counts[job.State(row.State)] = row.N
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/mongo: iterate state counts: %w", err)
	}
	return counts, nil
}

// PurgeJobs deletes jobs on the queue in any of the given states
// created at or before cutoff.
func (s *Store) PurgeJobs(ctx context.Context, queue string, states []job.State, cutoff time.Time) (int64, error) {
	stateStrs := make([]string, len(states))
	for i, st := range states {
		stateStrs[i] = string(st)
	}

	filter := bson.M{
		"state":      bson.M{"$in": stateStrs},
		"created_at": bson.M{"$lte": cutoff},
	}
	if queue != "" {
		filter["queue"] = queue
	}

	res, err := s.db.Collection(colJobs).DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("conveyor/mongo: purge jobs: %w", err)
	}
	return res.DeletedCount, nil
}

// TouchQueue records queue metadata on first use. Idempotent.
func (s *Store) TouchQueue(ctx context.Context, name string) error {
	_, err := s.db.Collection(colQueues).UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{
			"$setOnInsert": bson.M{"paused": false, "created_at": now()},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: touch queue: %w", err)
	}
	return nil
}

// SetQueuePaused pauses or resumes a queue, registering it if unknown.
func (s *Store) SetQueuePaused(ctx context.Context, name string, paused bool) error {
	_, err := s.db.Collection(colQueues).UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{
			"$set":         bson.M{"paused": paused},
			"$setOnInsert": bson.M{"created_at": now()},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("conveyor/mongo: set queue paused: %w", err)
	}
	return nil
}

// QueuePaused reports whether the queue is paused. Unknown queues are
// not paused.
func (s *Store) QueuePaused(ctx context.Context, name string) (bool, error) {
	var q queueModel
	err := s.db.Collection(colQueues).FindOne(ctx, bson.M{"_id": name}).Decode(&q)
	if err != nil {
		if isNoDocuments(err) {
			return false, nil
		}
		return false, fmt.Errorf("conveyor/mongo: queue paused: %w", err)
	}
	return q.Paused, nil
}

// ListQueues returns metadata for all known queues, sorted by name.
func (s *Store) ListQueues(ctx context.Context) ([]job.QueueInfo, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cur, err := s.db.Collection(colQueues).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("conveyor/mongo: list queues: %w", err)
	}
	defer cur.Close(ctx)

	var queues []job.QueueInfo
	for cur.Next(ctx) {
		var q queueModel
		if err := cur.Decode(&q); err != nil {
			return nil, fmt.Errorf("conveyor/mongo: decode queue: %w", err)
		}
		queues = append(queues, job.QueueInfo{
			Name:      q.Name,
			Paused:    q.Paused,
			CreatedAt: q.CreatedAt,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/mongo: iterate queues: %w", err)
	}
	return queues, nil
}

// collectJobs drains a cursor into jobs and closes it.
func collectJobs(ctx context.Context, cur *mongod.Cursor) ([]*job.Job, error) {
	defer cur.Close(ctx)

	var jobs []*job.Job
	for cur.Next(ctx) {
		var m jobModel
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("conveyor/mongo: decode job: %w", err)
		}
		j, err := fromJobModel(&m)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("conveyor/mongo: iterate jobs: %w", err)
	}
	return jobs, nil
}
