package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/atlaskb/atlas-backend/internal/data/repos"
	types "github.com/atlaskb/atlas-backend/internal/domain"
	"github.com/atlaskb/atlas-backend/internal/platform/dbctx"
	"github.com/atlaskb/atlas-backend/internal/services"
)

// Context is the execution handle for one claimed build run. It wraps the
// run row, the run repository and the notifier; pipelines report lifecycle
// transitions only through Progress, Fail and Succeed, never by touching
// the build_run row directly.
type Context struct {
	Ctx     context.Context
	DB      *gorm.DB
	Run     *types.BuildRun
	Repo    repos.BuildRunRepo
	Notify  services.BuildNotifier
	payload map[string]any
}

// NewContext constructs a runtime context for a claimed run. The payload
// JSON is decoded eagerly; a malformed payload yields an empty map and
// handlers validate required fields themselves.
func NewContext(ctx context.Context, db *gorm.DB, run *types.BuildRun, repo repos.BuildRunRepo, notify services.BuildNotifier) *Context {
	c := &Context{
		Ctx:    ctx,
		DB:     db,
		Run:    run,
		Repo:   repo,
		Notify: notify,
	}
	_ = c.decodePayload()
	return c
}

func (c *Context) decodePayload() error {
	if c.Run == nil {
		return nil
	}
	if len(c.Run.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Run.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

// Payload returns the decoded payload map. Never nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

// PayloadString reads a payload field as a trimmed string.
func (c *Context) PayloadString(key string) (string, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return "", false
	}
	return fmt.Sprint(v), true
}

// PayloadInt64 reads a payload field as an int64. JSON numbers arrive as
// float64 from the decoder.
func (c *Context) PayloadInt64(key string) (int64, bool) {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}

// Progress publishes a non-terminal status update: persists stage,
// progress and heartbeat, mirrors the in-memory run, emits a notifier
// event. Canceled runs are never overwritten.
func (c *Context) Progress(stage string, pct int, msg string) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()

	if c.Repo != nil && c.Run != nil && c.Run.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Run.ID, []string{"canceled"}, map[string]interface{}{
			"stage":        stage,
			"progress":     pct,
			"message":      msg,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}

	if c.Run != nil {
		c.Run.Stage = stage
		c.Run.Progress = pct
		c.Run.Message = msg
		c.Run.HeartbeatAt = &now
		c.Run.UpdatedAt = now
	}

	if c.Notify != nil && c.Run != nil {
		c.Notify.RunProgress(c.Run, stage, pct, msg)
	}
}

// Fail marks the run terminally failed, records the error, clears the
// lock so other workers do not treat it as in progress.
func (c *Context) Fail(stage string, err error) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	if c.Repo != nil && c.Run != nil && c.Run.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Run.ID, []string{"canceled"}, map[string]interface{}{
			"status":        "failed",
			"stage":         stage,
			"message":       "",
			"error":         msg,
			"last_error_at": now,
			"locked_at":     nil,
			"updated_at":    now,
		})
		if !ok {
			return
		}
	}

	if c.Run != nil {
		c.Run.Status = "failed"
		c.Run.Stage = stage
		c.Run.Message = ""
		c.Run.Error = msg
		c.Run.LastErrorAt = &now
		c.Run.LockedAt = nil
		c.Run.UpdatedAt = now
	}

	if c.Notify != nil && c.Run != nil {
		c.Notify.RunFailed(c.Run, stage, msg)
	}
}

// Succeed marks the run terminally succeeded and stores the serialized
// result payload.
func (c *Context) Succeed(finalStage string, result any) {
	if c == nil {
		return
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now()
	var res datatypes.JSON
	if result != nil {
		b, _ := json.Marshal(result)
		res = datatypes.JSON(b)
	}

	if c.Repo != nil && c.Run != nil && c.Run.ID != uuid.Nil {
		ok, _ := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, c.Run.ID, []string{"canceled"}, map[string]interface{}{
			"status":       "succeeded",
			"stage":        finalStage,
			"progress":     100,
			"message":      "",
			"error":        "",
			"result":       res,
			"locked_at":    nil,
			"heartbeat_at": now,
			"updated_at":   now,
		})
		if !ok {
			return
		}
	}

	if c.Run != nil {
		c.Run.Status = "succeeded"
		c.Run.Stage = finalStage
		c.Run.Progress = 100
		c.Run.Message = ""
		c.Run.Error = ""
		c.Run.Result = res
		c.Run.LockedAt = nil
		c.Run.HeartbeatAt = &now
		c.Run.UpdatedAt = now
	}

	if c.Notify != nil && c.Run != nil {
		c.Notify.RunDone(c.Run)
	}
}
