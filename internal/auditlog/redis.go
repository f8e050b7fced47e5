package auditlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/media-converter/internal/domain"
	"github.com/redis/go-redis/v9"
)

const streamKeyPrefix = "audit:job:"

// RedisStore keeps one Redis stream per job
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
	maxLen int64
}

// NewRedisStore creates a new RedisStore instance. maxLen <= 0 keeps every entry.
func NewRedisStore(client *redis.Client, maxLen int64, logger *slog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		logger: logger,
		maxLen: maxLen,
	}
}

func streamKey(jobID string) string {
	return streamKeyPrefix + jobID
}

// Append adds the entry to the job's stream. The stream ID becomes the entry ID.
func (s *RedisStore) Append(ctx context.Context, entry domain.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	args := &redis.XAddArgs{
		Stream: streamKey(entry.JobID),
		Values: map[string]interface{}{
			"event":      string(entry.Event),
			"detail":     entry.Detail,
			"created_at": entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return domain.NewTransientError("failed to append audit entry", err)
	}

	return nil
}

// ListByJob reads the whole stream for a job
func (s *RedisStore) ListByJob(ctx context.Context, jobID string) ([]domain.AuditEntry, error) {
	messages, err := s.client.XRange(ctx, streamKey(jobID), "-", "+").Result()
	if err != nil {
		return nil, domain.NewTransientError("failed to list audit entries", err)
	}

	entries := make([]domain.AuditEntry, 0, len(messages))
	for _, msg := range messages {
		entry, err := entryFromMessage(jobID, msg)
		if err != nil {
			s.logger.Warn("Skipping malformed audit entry",
				slog.String("job_id", jobID),
				slog.String("stream_id", msg.ID),
				slog.Any("error", err),
			)
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func entryFromMessage(jobID string, msg redis.XMessage) (domain.AuditEntry, error) {
	event, _ := msg.Values["event"].(string)
	if event == "" {
		return domain.AuditEntry{}, fmt.Errorf("missing event field")
	}
	detail, _ := msg.Values["detail"].(string)

	raw, _ := msg.Values["created_at"].(string)
	createdAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("invalid created_at %q: %w", raw, err)
	}

	return domain.AuditEntry{
		ID:        msg.ID,
		JobID:     jobID,
		Event:     domain.AuditEvent(event),
		Detail:    detail,
		CreatedAt: createdAt,
	}, nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
