// Package queue carries primary generation jobs between the API and the
// orchestrator workers over a Redis list. Secondary renders use the durable
// Postgres render queue instead; this list is only the hand-off for
// freshly accepted jobs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const generationQueue = "reelpipe:queue:generate"

type Queue struct {
	client *redis.Client
}

// Envelope is the JSON message carried on the Redis list.
type Envelope struct {
	JobID     uuid.UUID `json:"job_id"`
	CreatedAt time.Time `json:"created_at"`
}

func New(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{client: client}, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}

// EnqueueGeneration schedules a generation job for pickup by a worker.
func (q *Queue) EnqueueGeneration(ctx context.Context, jobID uuid.UUID) error {
	data, err := json.Marshal(Envelope{JobID: jobID, CreatedAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal queue envelope: %w", err)
	}
	return q.client.RPush(ctx, generationQueue, data).Err()
}

// DequeueGeneration blocks up to timeout for the next job. Returns nil, nil
// when nothing arrived.
func (q *Queue) DequeueGeneration(ctx context.Context, timeout time.Duration) (*Envelope, error) {
	result, err := q.client.BLPop(ctx, timeout, generationQueue).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) != 2 {
		return nil, fmt.Errorf("unexpected redis response")
	}

	var env Envelope
	if err := json.Unmarshal([]byte(result[1]), &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue envelope: %w", err)
	}
	return &env, nil
}

// Length reports the number of waiting generation jobs.
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, generationQueue).Result()
}
