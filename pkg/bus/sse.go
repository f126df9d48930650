package bus

import (
	"context"
	"time"

	ginsse "github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
)

// KeepAliveInterval is how often a keep-alive comment is written to an SSE
// stream to defeat proxy idle timeouts.
const KeepAliveInterval = 15 * time.Second

// Filter decides whether an Envelope should be delivered to one particular
// SSE client, e.g. restricting /api/agents/{id}/stream to a single
// AgentRun's events.
type Filter func(Envelope) bool

// AllEnvelopes is the Filter for the firehose /api/events endpoint.
func AllEnvelopes(Envelope) bool { return true }

// ForAgentRun restricts delivery to AgentEvent envelopes for one AgentRun id
// (operation updates are not agent-scoped and are never delivered by this
// filter).
func ForAgentRun(agentRunID string) Filter {
	return func(e Envelope) bool {
		return e.Kind == KindAgentEvent && e.AgentRunID == agentRunID
	}
}

// ServeSSE subscribes to the bus and streams matching envelopes to c as
// Server-Sent Events until the client disconnects or the request context is
// canceled. It blocks for the life of the connection — callers invoke it
// directly from a gin handler, which is how gin models a long-lived
// streaming request.
func ServeSSE(c *gin.Context, b *Bus, filter Filter) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	keepAlive := time.NewTicker(KeepAliveInterval)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-sub.C:
			if !ok {
				return
			}
			if filter != nil && !filter(env) {
				continue
			}
			writeEvent(c, env)
		case <-keepAlive.C:
			writeComment(c, "keep-alive")
		}
	}
}

func writeEvent(c *gin.Context, env Envelope) {
	payload, err := env.JSON()
	if err != nil {
		return
	}
	ginsse.Encode(c.Writer, ginsse.Event{Event: string(env.Kind), Data: string(payload)})
	c.Writer.Flush()
}

func writeComment(c *gin.Context, comment string) {
	_, _ = c.Writer.WriteString(": " + comment + "\n\n")
	c.Writer.Flush()
}

// WaitForSubscriberDrain blocks until ctx is done or the bus has no
// subscribers left, used by graceful shutdown to give SSE clients a chance
// to receive a final event before the process exits. It is a best-effort
// convenience, not a correctness requirement.
func WaitForSubscriberDrain(ctx context.Context, b *Bus, poll time.Duration) {
	t := time.NewTicker(poll)
	defer t.Stop()
	for {
		if b.SubscriberCount() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
