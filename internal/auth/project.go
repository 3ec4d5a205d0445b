package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// DefaultProjectEndpoint is where CodeAssistResolver looks up the cloud
// project bound to an access token.
const DefaultProjectEndpoint = "https://cloudcode-pa.googleapis.com/v1internal:loadCodeAssist"

// CodeAssistResolver resolves project ids by calling the upstream's
// loadCodeAssist endpoint with the account's access token.
type CodeAssistResolver struct {
	endpoint string
	client   *http.Client
}

// NewCodeAssistResolver builds a resolver. endpoint may be empty to use
// DefaultProjectEndpoint; client may be nil to use http.DefaultClient.
func NewCodeAssistResolver(endpoint string, client *http.Client) *CodeAssistResolver {
	if endpoint == "" {
		endpoint = DefaultProjectEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &CodeAssistResolver{endpoint: endpoint, client: client}
}

type loadCodeAssistRequest struct {
	Metadata loadCodeAssistMetadata `json:"metadata"`
}

type loadCodeAssistMetadata struct {
	PluginType string `json:"pluginType"`
}

type loadCodeAssistResponse struct {
	Project string `json:"cloudaicompanionProject"`
}

// FetchProjectID asks the upstream which project the token belongs to.
func (r *CodeAssistResolver) FetchProjectID(ctx context.Context, accessToken string) (string, error) {
	body, err := json.Marshal(loadCodeAssistRequest{
		Metadata: loadCodeAssistMetadata{PluginType: "GEMINI"},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching project id: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("project lookup returned status %d", resp.StatusCode)
	}

	var decoded loadCodeAssistResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decoding project response: %w", err)
	}
	if decoded.Project == "" {
		return "", fmt.Errorf("response carries no project id")
	}
	return decoded.Project, nil
}

// SyntheticProjectID generates the placeholder used when resolution
// fails. It is recognizable in logs and account files by its prefix.
func SyntheticProjectID() string {
	return "synthetic-" + strings.SplitN(uuid.NewString(), "-", 2)[0]
}
