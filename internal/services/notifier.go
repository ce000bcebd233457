package services

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/platform/logger"
)

const (
	EventRunProgress = "run.progress"
	EventRunFailed   = "run.failed"
	EventRunDone     = "run.done"
)

// BuildEvent is the wire shape published for run lifecycle changes.
type BuildEvent struct {
	Event    string    `json:"event"`
	RunID    uuid.UUID `json:"run_id"`
	JobType  string    `json:"job_type"`
	Stage    string    `json:"stage,omitempty"`
	Progress int       `json:"progress,omitempty"`
	Message  string    `json:"message,omitempty"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

// BuildNotifier publishes run lifecycle events for external observers.
// Every implementation must be nil-safe: a pipeline never checks whether
// notifications are configured.
type BuildNotifier interface {
	RunProgress(run *types.BuildRun, stage string, progress int, message string)
	RunFailed(run *types.BuildRun, stage string, errorMessage string)
	RunDone(run *types.BuildRun)
}

type redisNotifier struct {
	log     *logger.Logger
	rdb     *redis.Client
	channel string
}

// NewRedisNotifier connects a pub/sub backed notifier. REDIS_ADDR is
// required; ATLAS_EVENTS_CHANNEL overrides the channel name.
func NewRedisNotifier(baseLog *logger.Logger) (BuildNotifier, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ch := strings.TrimSpace(os.Getenv("ATLAS_EVENTS_CHANNEL"))
	if ch == "" {
		ch = "atlas.build"
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisNotifier{
		log:     baseLog.With("service", "RedisNotifier"),
		rdb:     rdb,
		channel: ch,
	}, nil
}

func (n *redisNotifier) publish(ev BuildEvent) {
	if n == nil || n.rdb == nil {
		return
	}
	ev.At = time.Now()
	raw, err := json.Marshal(ev)
	if err != nil {
		n.log.Warn("Event marshal failed", "event", ev.Event, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.rdb.Publish(ctx, n.channel, raw).Err(); err != nil {
		n.log.Warn("Event publish failed", "event", ev.Event, "error", err)
	}
}

func (n *redisNotifier) RunProgress(run *types.BuildRun, stage string, progress int, message string) {
	if n == nil || run == nil {
		return
	}
	n.publish(BuildEvent{
		Event:    EventRunProgress,
		RunID:    run.ID,
		JobType:  run.JobType,
		Stage:    stage,
		Progress: progress,
		Message:  message,
	})
}

func (n *redisNotifier) RunFailed(run *types.BuildRun, stage string, errorMessage string) {
	if n == nil || run == nil {
		return
	}
	n.publish(BuildEvent{
		Event:   EventRunFailed,
		RunID:   run.ID,
		JobType: run.JobType,
		Stage:   stage,
		Error:   errorMessage,
	})
}

func (n *redisNotifier) RunDone(run *types.BuildRun) {
	if n == nil || run == nil {
		return
	}
	n.publish(BuildEvent{
		Event:   EventRunDone,
		RunID:   run.ID,
		JobType: run.JobType,
	})
}

type nopNotifier struct{}

// NewNopNotifier is the fallback when no bus is configured.
func NewNopNotifier() BuildNotifier { return nopNotifier{} }

func (nopNotifier) RunProgress(run *types.BuildRun, stage string, progress int, message string) {}
func (nopNotifier) RunFailed(run *types.BuildRun, stage string, errorMessage string)           {}
func (nopNotifier) RunDone(run *types.BuildRun)                                                {}
