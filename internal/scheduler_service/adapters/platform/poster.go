// Package platform is the boundary to the services that actually publish
// content on a social network. The executor sees only Deliver.
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/postflow/golang_services/internal/scheduler_service/domain"
)

// Credentials are the owner's linked-account tokens for one platform.
type Credentials struct {
	OwnerID     string
	Platform    domain.Platform
	AccountID   string
	AccessToken string
}

// DeliveryRequest is one attempt to publish a job's content.
type DeliveryRequest struct {
	JobID       uuid.UUID
	Platform    domain.Platform
	Content     string
	Credentials *Credentials
}

// Receipt is returned by a successful delivery.
type Receipt struct {
	PlatformPostID string
}

// Poster publishes content on one platform.
type Poster interface {
	Post(ctx context.Context, req DeliveryRequest) (*Receipt, error)
	GetName() string
}

// Error is a failure reported by a platform. Its message is what gets
// recorded on the job.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string { return e.Message }

// Registry routes deliveries to the Poster registered for the platform.
type Registry struct {
	posters map[domain.Platform]Poster
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		posters: make(map[domain.Platform]Poster),
		logger:  logger.With("component", "platform_registry"),
	}
}

// Register installs p for platform, replacing any previous poster.
func (r *Registry) Register(platform domain.Platform, p Poster) {
	r.posters[platform] = p
	r.logger.Info("Platform poster registered", "platform", platform, "poster", p.GetName())
}

// Deliver sends req to the platform's poster.
func (r *Registry) Deliver(ctx context.Context, req DeliveryRequest) (*Receipt, error) {
	p, ok := r.posters[req.Platform]
	if !ok {
		return nil, fmt.Errorf("no poster configured for platform %q: %w", req.Platform, domain.ErrInvalidPlatform)
	}
	return p.Post(ctx, req)
}

// StaticCredentialStore serves credentials from memory. Used with the memory
// job store and in tests.
type StaticCredentialStore struct {
	mu    sync.RWMutex
	creds map[string]Credentials
}

func NewStaticCredentialStore() *StaticCredentialStore {
	return &StaticCredentialStore{creds: make(map[string]Credentials)}
}

func (s *StaticCredentialStore) Put(c Credentials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[credKey(c.OwnerID, c.Platform)] = c
}

func (s *StaticCredentialStore) GetCredentials(ctx context.Context, ownerID string, p domain.Platform) (*Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[credKey(ownerID, p)]
	if !ok {
		return nil, domain.ErrCredentialsNotFound
	}
	return &c, nil
}

func credKey(ownerID string, p domain.Platform) string {
	return ownerID + "/" + string(p)
}
