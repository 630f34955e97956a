package aggregate

import (
	"context"
	"sort"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/nguyentranbao-ct/chat-sync/internal/config"
	"github.com/nguyentranbao-ct/chat-sync/internal/models"
	"github.com/nguyentranbao-ct/chat-sync/internal/store"
)

// Node is one message with its ordered replies.
type Node struct {
	Message *models.Message `json:"message"`
	Replies []*Node         `json:"replies,omitempty"`
}

// Thread is one reply forest grouped under a thread root id. Nodes holds
// the root message first; replies whose root was deleted are promoted to
// the top level so the thread stays readable.
type Thread struct {
	ID    string  `json:"id"`
	Nodes []*Node `json:"nodes"`
	Count int     `json:"count"`
}

// Aggregator derives read views from the mirrored message state. It never
// mutates the store; malformed structure (reply cycles, over-deep chains)
// is excluded from the view and logged, leaving the rest of the thread
// intact. Replies crossing project boundaries fall out of scope and their
// children surface as promoted orphans.
type Aggregator interface {
	Threads(ctx context.Context, projectID string) ([]*Thread, error)
	Pinned(ctx context.Context, projectID string) ([]*models.Message, error)
}

type aggregator struct {
	maxDepth int
	store    store.Store
}

func NewAggregator(conf *config.Config, st store.Store) Aggregator {
	maxDepth := conf.Aggregate.MaxReplyDepth
	if maxDepth <= 0 {
		maxDepth = 32
	}
	return &aggregator{maxDepth: maxDepth, store: st}
}

func (a *aggregator) projectMessages(projectID string) []*models.Message {
	ents := a.store.ListWhere(models.ResourceMessages, func(ent models.Entity) bool {
		msg, ok := ent.(*models.Message)
		return ok && msg.ProjectID == projectID
	})

	msgs := make([]*models.Message, 0, len(ents))
	for _, ent := range ents {
		msg := ent.(*models.Message)
		msg.NormalizeReactions()
		msgs = append(msgs, msg)
	}
	return msgs
}

func (a *aggregator) Threads(ctx context.Context, projectID string) ([]*Thread, error) {
	msgs := a.projectMessages(projectID)

	groups := make(map[string][]*models.Message)
	for _, msg := range msgs {
		groups[msg.ThreadID] = append(groups[msg.ThreadID], msg)
	}

	threads := make([]*Thread, 0, len(groups))
	for threadID, group := range groups {
		threads = append(threads, a.buildThread(ctx, projectID, threadID, group))
	}

	sort.Slice(threads, func(i, j int) bool {
		a, b := threads[i], threads[j]
		if len(a.Nodes) == 0 || len(b.Nodes) == 0 {
			return a.ID < b.ID
		}
		return messageLess(a.Nodes[0].Message, b.Nodes[0].Message)
	})
	return threads, nil
}

func (a *aggregator) buildThread(ctx context.Context, projectID, threadID string, group []*models.Message) *Thread {
	byID := make(map[string]*models.Message, len(group))
	for _, msg := range group {
		byID[msg.ID] = msg
	}

	// A message survives when its reply chain terminates inside the depth
	// bound without revisiting an id. Cycle members never terminate, and
	// neither do messages replying into a cycle.
	nodes := make(map[string]*Node, len(group))
	for _, msg := range group {
		if reason := a.chainViolation(byID, msg); reason != "" {
			log.Warnw(ctx, "excluding message from thread view",
				"project_id", projectID,
				"thread_id", threadID,
				"message_id", msg.ID,
				"reason", reason,
			)
			continue
		}
		nodes[msg.ID] = &Node{Message: msg}
	}

	thread := &Thread{ID: threadID, Count: len(nodes)}
	for _, msg := range group {
		node, ok := nodes[msg.ID]
		if !ok {
			continue
		}
		if parent, ok := nodes[msg.ReplyToID]; ok && msg.ReplyToID != msg.ID {
			parent.Replies = append(parent.Replies, node)
			continue
		}
		// thread root, or orphan promoted after its parent vanished
		thread.Nodes = append(thread.Nodes, node)
	}

	sortNodes(thread.Nodes)
	for _, node := range nodes {
		sortNodes(node.Replies)
	}
	return thread
}

// chainViolation reports why msg cannot join the tree, or "".
func (a *aggregator) chainViolation(byID map[string]*models.Message, msg *models.Message) string {
	visited := map[string]struct{}{msg.ID: {}}
	walk := msg
	depth := 0
	for walk.ReplyToID != "" {
		if _, seen := visited[walk.ReplyToID]; seen {
			return "reply_cycle"
		}
		parent, ok := byID[walk.ReplyToID]
		if !ok {
			// parent deleted or out of scope; chain terminates here
			return ""
		}
		depth++
		if depth > a.maxDepth {
			return "reply_depth_exceeded"
		}
		visited[parent.ID] = struct{}{}
		walk = parent
	}
	return ""
}

func (a *aggregator) Pinned(_ context.Context, projectID string) ([]*models.Message, error) {
	msgs := a.projectMessages(projectID)

	pinned := msgs[:0]
	for _, msg := range msgs {
		if msg.Pinned {
			pinned = append(pinned, msg)
		}
	}
	sort.Slice(pinned, func(i, j int) bool { return messageLess(pinned[i], pinned[j]) })
	return pinned, nil
}

func messageLess(a, b *models.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return messageLess(nodes[i].Message, nodes[j].Message) })
}
