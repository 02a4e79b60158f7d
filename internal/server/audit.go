package server

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clinicalkb/medrag/config"
)

// AuditEvent is one entry in the query audit trail. Query text is never
// recorded, only identifiers and outcomes.
type AuditEvent struct {
	Kind     string
	QueryID  string
	ClientIP string
	Detail   string
	CacheHit bool
}

// AuditSink records audit events. Implementations are fire-and-forget: a
// failing sink logs and moves on, it never fails the request.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent)
}

// RedisAuditSink appends events to a capped Redis stream so external
// consumers can tail the audit trail.
type RedisAuditSink struct {
	client *redis.Client
	stream string
	maxLen int64
	logger *log.Logger
}

func NewRedisAuditSink(client *redis.Client, cfg config.AuditConfig) *RedisAuditSink {
	return &RedisAuditSink{
		client: client,
		stream: cfg.Stream,
		maxLen: cfg.MaxLen,
		logger: log.New(log.Writer(), "[AUDIT] ", log.LstdFlags),
	}
}

func (s *RedisAuditSink) Record(ctx context.Context, event AuditEvent) {
	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind":      event.Kind,
			"query_id":  event.QueryID,
			"client_ip": event.ClientIP,
			"detail":    event.Detail,
			"cache_hit": event.CacheHit,
			"at":        time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		s.logger.Printf("audit append failed: %v", err)
	}
}

// LogAuditSink writes audit events to the process log.
type LogAuditSink struct{}

func (LogAuditSink) Record(ctx context.Context, event AuditEvent) {
	log.Printf("[AUDIT] kind=%s query=%s ip=%s cache_hit=%t %s",
		event.Kind, event.QueryID, event.ClientIP, event.CacheHit, event.Detail)
}
