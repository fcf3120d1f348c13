package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/sentinelwatch/sentinel/internal/agent"
)

// Static replays scripted responses in order. It backs the "static" provider
// setting so the agent pipeline can run without a model, and it is the test
// double for everything that drives an agent.
type Static struct {
	mu        sync.Mutex
	responses []agent.Response
	next      int

	// Requests records every request seen, for assertions.
	Requests []*agent.Request
}

func NewStatic(responses ...agent.Response) *Static {
	return &Static{responses: responses}
}

func (s *Static) GetResponse(ctx context.Context, request *agent.Request) (*agent.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Requests = append(s.Requests, request)
	if s.next >= len(s.responses) {
		return nil, fmt.Errorf("static provider exhausted after %d responses", len(s.responses))
	}
	resp := s.responses[s.next]
	s.next++
	return &resp, nil
}
