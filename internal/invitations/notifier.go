package invitations

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Notification is handed to the out-of-band dispatcher after an invitation is stored.
type Notification struct {
	Email    string `json:"email"`
	Token    string `json:"token"`
	TenantID string `json:"tenant_id"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier only logs; used when no Redis is configured.
type LogNotifier struct {
	log *zap.SugaredLogger
}

func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier { return &LogNotifier{log: log} }

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	tok := n.Token
	if len(tok) > 8 {
		tok = tok[:8] + "..."
	}
	l.log.Infow("invitation notification", "email", n.Email, "tenant_id", n.TenantID, "token", tok)
	return nil
}

// RedisNotifier publishes notifications as JSON on a channel a mailer subscribes to.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
}

func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: channel}
}

func (r *RedisNotifier) Notify(ctx context.Context, n Notification) error {
	if r.rdb == nil {
		return nil
	}
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, r.channel, b).Err(); err != nil {
		return fmt.Errorf("publish invitation: %w", err)
	}
	return nil
}
