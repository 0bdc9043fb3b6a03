package call

import (
	"context"
	"encoding/json"

	"github.com/arch7tect/sip-gateway/internal/backend"
)

// BackendAPI is the narrow slice of the backend HTTP client the Call
// Controller drives. A test double implementing this is enough to
// exercise the controller without a live backend; *backend.Client
// satisfies it.
type BackendAPI interface {
	CreateSession(ctx context.Context, req backend.SessionRequest) (backend.Session, error)
	Start(ctx context.Context, sessionID, message string, kwargs map[string]any) (json.RawMessage, error)
	Commit(ctx context.Context, sessionID string) (backend.CommitResult, error)
	Rollback(ctx context.Context, sessionID string) (json.RawMessage, error)
	DeleteSession(ctx context.Context, sessionID, status string) error
	Transcribe(ctx context.Context, wavBytes []byte) (string, error)
}
