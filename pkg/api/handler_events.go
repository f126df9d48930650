package api

import (
	"github.com/gin-gonic/gin"

	"github.com/harrowgate/conductor/pkg/bus"
)

// streamAllEvents is the firehose SSE endpoint: every
// AgentEvent and OperationUpdate the bus publishes.
func (s *Server) streamAllEvents(c *gin.Context) {
	bus.ServeSSE(c, s.bus, bus.AllEnvelopes)
}

// streamAgentEvents restricts the stream to one AgentRun's events.
func (s *Server) streamAgentEvents(c *gin.Context) {
	bus.ServeSSE(c, s.bus, bus.ForAgentRun(c.Param("agentRunID")))
}
