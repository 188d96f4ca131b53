package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/events"
)

// projectionRepo records creates and signals each one on a channel so
// tests can wait for the detached projection write.
type projectionRepo struct {
	fakeUserRepo
	mu      sync.Mutex
	created []domain.User
	signal  chan struct{}
}

func newProjectionRepo() *projectionRepo {
	return &projectionRepo{signal: make(chan struct{}, 8)}
}

func (r *projectionRepo) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	r.created = append(r.created, *user)
	r.mu.Unlock()
	r.signal <- struct{}{}
	return nil
}

func (r *projectionRepo) createdUsers() []domain.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.User{}, r.created...)
}

func newProjector(repo *projectionRepo) *ProjectionService {
	p := NewProjectionService(repo, events.NewInMemoryDispatcher(), zap.NewNop())
	p.RegisterHandlers()
	return p
}

func waitForCreate(t *testing.T, repo *projectionRepo) {
	t.Helper()
	select {
	case <-repo.signal:
	case <-time.After(2 * time.Second):
		t.Fatalf("projection write never happened")
	}
}

func TestRegistrationEventCreatesProjection(t *testing.T) {
	repo := newProjectionRepo()
	p := newProjector(repo)

	body := []byte(`{"type":"REGISTER","userId":"ext-123","details":{"username":"alice","email":"alice@example.com"}}`)
	p.HandleDelivery(context.Background(), "KK.EVENT.CLIENT.master.SUCCESS.account", body)

	waitForCreate(t, repo)
	created := repo.createdUsers()
	if len(created) != 1 {
		t.Fatalf("expected 1 user created, got %d", len(created))
	}
	if created[0].KeycloakID != "ext-123" {
		t.Fatalf("unexpected keycloak id %q", created[0].KeycloakID)
	}
	if created[0].Name != "alice" {
		t.Fatalf("unexpected name %q", created[0].Name)
	}
	if created[0].CreatedAt.IsZero() {
		t.Fatalf("created timestamp not set")
	}
}

func TestUnknownEventTypeIsNoOp(t *testing.T) {
	repo := newProjectionRepo()
	p := newProjector(repo)

	p.HandleDelivery(context.Background(), "rk", []byte(`{"type":"LOGIN","userId":"ext-123"}`))
	p.HandleDelivery(context.Background(), "rk", []byte(`{"type":"LOGOUT","userId":"ext-123"}`))

	select {
	case <-repo.signal:
		t.Fatalf("unexpected projection write for unknown event type")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestProfileUpdateEventDoesNotWrite(t *testing.T) {
	repo := newProjectionRepo()
	p := newProjector(repo)

	p.HandleDelivery(context.Background(), "rk", []byte(`{"type":"UPDATE_PROFILE","userId":"ext-123","details":{"context":"ACCOUNT"}}`))

	select {
	case <-repo.signal:
		t.Fatalf("profile update must not create a projection")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMalformedDeliveriesAreDiscarded(t *testing.T) {
	repo := newProjectionRepo()
	p := newProjector(repo)

	for _, body := range [][]byte{
		[]byte(`not json at all`),
		[]byte(`{}`),
		[]byte(``),
		[]byte(`{"details":{"username":"ghost"}}`),
	} {
		p.HandleDelivery(context.Background(), "rk", body)
	}

	select {
	case <-repo.signal:
		t.Fatalf("unexpected projection write for malformed delivery")
	case <-time.After(100 * time.Millisecond):
	}

	// The consumer must keep working after bad input.
	p.HandleDelivery(context.Background(), "rk", []byte(`{"type":"REGISTER","userId":"ext-9","details":{"username":"bob"}}`))
	waitForCreate(t, repo)
}

func TestRegistrationWithoutUserIDIsDropped(t *testing.T) {
	repo := newProjectionRepo()
	p := newProjector(repo)

	p.HandleDelivery(context.Background(), "rk", []byte(`{"type":"REGISTER","details":{"username":"noid"}}`))

	select {
	case <-repo.signal:
		t.Fatalf("registration without user id must not be projected")
	case <-time.After(100 * time.Millisecond):
	}
}
