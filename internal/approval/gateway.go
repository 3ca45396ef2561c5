// Package approval is the human-confirmation step in front of the dispatch
// queue for remotely-originated tasks.
package approval

import (
	"context"
	"fmt"
	"log/slog"

	"bizconnect/internal/bridge"
	"bizconnect/internal/domain"
	"bizconnect/internal/kv"
)

// Decision is the typed resolution of an approval prompt.
type Decision string

const (
	Approved  Decision = "approved"
	Cancelled Decision = "cancelled"
	TimedOut  Decision = "timed_out"
)

// Prompter shows an approval dialog on the device. Resolutions arrive
// asynchronously through the agent API.
type Prompter interface {
	Prompt(ctx context.Context, p bridge.PromptRequest) error
}

const autoApproveKey = "approval:auto"

// Gateway wraps the native approval UI and the persisted auto-approve
// toggle.
type Gateway struct {
	Prompter Prompter
	KV       kv.Store
}

// AutoApprove reads the persisted toggle; unknown state means off.
func (g *Gateway) AutoApprove(ctx context.Context) bool {
	b, found, err := g.KV.Get(ctx, autoApproveKey)
	if err != nil {
		slog.Warn("auto-approve toggle read failed", "err", err)
		return false
	}
	return found && string(b) == "1"
}

func (g *Gateway) SetAutoApprove(ctx context.Context, on bool) error {
	v := "0"
	if on {
		v = "1"
	}
	return g.KV.Set(ctx, autoApproveKey, []byte(v))
}

// PromptTask presents one task for approval. auto=true means the toggle
// bypassed the prompt and the caller should resolve as Approved immediately.
func (g *Gateway) PromptTask(ctx context.Context, task domain.Task) (auto bool, err error) {
	if g.AutoApprove(ctx) {
		return true, nil
	}
	err = g.Prompter.Prompt(ctx, bridge.PromptRequest{
		TaskID:  task.ID,
		Phone:   task.CustomerPhone,
		Message: task.MessageContent,
	})
	if err != nil {
		return false, fmt.Errorf("approval prompt: %w", err)
	}
	return false, nil
}

// PromptBatch presents one aggregate prompt for a whole batch. Members still
// resolve individually through the single-task path.
func (g *Gateway) PromptBatch(ctx context.Context, ids []string) (auto bool, err error) {
	if g.AutoApprove(ctx) {
		return true, nil
	}
	err = g.Prompter.Prompt(ctx, bridge.PromptRequest{TaskIDs: ids, Count: len(ids)})
	if err != nil {
		return false, fmt.Errorf("batch approval prompt: %w", err)
	}
	return false, nil
}
