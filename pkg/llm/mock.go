package llm

import (
	"context"
	"sync"
)

const (
	mockModel    = "mock-model"
	mockEndpoint = "http://mock-endpoint"
)

// MockLLMClient is an LLMClient for tests. Replies are served in order; once
// they run out, GenerateResponseFunc is consulted, then an empty result is
// returned. Safe for concurrent use.
type MockLLMClient struct {
	GenerateResponseFunc func(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error)

	Model    string
	Endpoint string

	mu      sync.Mutex
	replies []string
	prompts []string
}

// NewMockLLMClient creates a mock that answers with replies in order.
func NewMockLLMClient(replies ...string) *MockLLMClient {
	return &MockLLMClient{
		Model:    mockModel,
		Endpoint: mockEndpoint,
		replies:  replies,
	}
}

func (m *MockLLMClient) GenerateResponse(ctx context.Context, prompt string, systemMessage string, temperature float64) (*GenerateResponseResult, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	if len(m.replies) > 0 {
		reply := m.replies[0]
		m.replies = m.replies[1:]
		m.mu.Unlock()
		return &GenerateResponseResult{Content: reply}, nil
	}
	fn := m.GenerateResponseFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt, systemMessage, temperature)
	}
	return &GenerateResponseResult{}, nil
}

// GenerateResponseCalls returns how many times GenerateResponse was invoked.
func (m *MockLLMClient) GenerateResponseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns a copy of every prompt received so far.
func (m *MockLLMClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

func (m *MockLLMClient) GetModel() string {
	if m.Model == "" {
		return mockModel
	}
	return m.Model
}

func (m *MockLLMClient) GetEndpoint() string {
	if m.Endpoint == "" {
		return mockEndpoint
	}
	return m.Endpoint
}

var _ LLMClient = (*MockLLMClient)(nil)
