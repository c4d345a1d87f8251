package llm

import "context"

// MockClient answers with a canned sourcing plan. It keeps the whole
// pipeline exercisable without credentials.
type MockClient struct{}

func (m *MockClient) Generate(ctx context.Context, prompt string) (string, error) {
	return `{"actions":[{"action_type":"source_leads","entity_type":"lead","payload":{"max_results":10},"requires_confirm":false}],"summary":"Source up to 10 leads"}`, nil
}
