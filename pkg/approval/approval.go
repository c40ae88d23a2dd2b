// Package approval implements the per-session allow-list and interactive
// approval gate that tool bodies with side effects consult before acting,
// grounded on the whitelist check in the teacher's internal/tool bash
// manager, generalized from a hardcoded whitelist into an explicit gate.
package approval

import (
	"context"
	"sync"

	"github.com/leavesfly/jimi/pkg/wire"
)

// Response is the outcome of an approval request.
type Response string

const (
	ApproveOnce    Response = "APPROVE_ONCE"
	ApproveSession Response = "APPROVE_FOR_SESSION"
	Reject         Response = "REJECT"
)

type allowKey struct {
	tool   string
	action string
}

// Resolver is the single-writer completion handle a host uses to answer a
// suspended interactive request.
type Resolver func(Response)

// PendingRequest is published on the Bus as a StatusUpdate and handed to
// the host so it can resolve the suspended call.
type PendingRequest struct {
	ToolName    string
	ActionKey   string
	Description string
	Resolve     Resolver
}

// Gate mediates approval for tool side effects.
type Gate struct {
	yolo bool
	bus  *wire.Bus

	mu        sync.Mutex
	allowList map[allowKey]struct{}
	count     int
}

// New constructs a Gate. When yolo is true every request is approved
// synchronously without consulting the allow-list or the host.
func New(bus *wire.Bus, yolo bool) *Gate {
	return &Gate{
		yolo:      yolo,
		bus:       bus,
		allowList: make(map[allowKey]struct{}),
	}
}

// Request asks for approval of one tool_name/action_key pair. It blocks
// until resolved (synchronously, for YOLO and allow-listed requests; by
// suspending on ctx/the host's Resolver call otherwise).
func (g *Gate) Request(ctx context.Context, toolName, actionKey, description string) Response {
	if g.yolo {
		return ApproveOnce
	}

	key := allowKey{tool: toolName, action: actionKey}
	g.mu.Lock()
	_, allowed := g.allowList[key]
	g.mu.Unlock()
	if allowed {
		return ApproveSession
	}

	resultCh := make(chan Response, 1)
	resolve := func(r Response) {
		if r == ApproveSession {
			g.mu.Lock()
			if _, exists := g.allowList[key]; !exists {
				g.allowList[key] = struct{}{}
				g.count++
			}
			g.mu.Unlock()
		}
		select {
		case resultCh <- r:
		default:
		}
	}

	if g.bus != nil {
		g.bus.Publish(wire.Event{
			Type: wire.EventStatusUpdate,
			Status: map[string]any{
				"kind": "ApprovalRequired",
				"request": PendingRequest{
					ToolName:    toolName,
					ActionKey:   actionKey,
					Description: description,
					Resolve:     resolve,
				},
			},
		})
	}

	select {
	case r := <-resultCh:
		return r
	case <-ctx.Done():
		return Reject
	}
}

// SessionApprovalCount reports how many distinct (tool,action) pairs have
// been approved for the remainder of the session.
func (g *Gate) SessionApprovalCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}
