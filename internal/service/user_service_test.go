package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/user-service/internal/domain"
	"github.com/spec-kit/user-service/internal/messaging"
	apperrors "github.com/spec-kit/user-service/pkg/util"
)

// fakeUserRepo is an in-memory repository keyed by local id.
type fakeUserRepo struct {
	mu        sync.Mutex
	nextID    int64
	users     map[int64]domain.User
	deleteErr error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]domain.User)}
}

func (r *fakeUserRepo) Create(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.users == nil {
		r.users = make(map[int64]domain.User)
	}
	r.nextID++
	user.ID = r.nextID
	r.users[user.ID] = *user
	return nil
}

func (r *fakeUserRepo) Update(ctx context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return pgx.ErrNoRows
	}
	r.users[user.ID] = *user
	return nil
}

func (r *fakeUserRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if _, ok := r.users[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.users, id)
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &user, nil
}

func (r *fakeUserRepo) GetByKeycloakID(ctx context.Context, keycloakID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.KeycloakID == keycloakID {
			u := user
			return &u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *fakeUserRepo) List(ctx context.Context) ([]domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.User, 0, len(r.users))
	for _, user := range r.users {
		out = append(out, user)
	}
	return out, nil
}

func (r *fakeUserRepo) has(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.users[id]
	return ok
}

// fakeIdentity simulates the identity provider.
type fakeIdentity struct {
	tokenErr  error
	deleteErr error

	tokenCalls  int
	deleteCalls []string
	gotTokens   []string
}

func (f *fakeIdentity) AdminToken(ctx context.Context) (string, error) {
	f.tokenCalls++
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return "test-admin-token", nil
}

func (f *fakeIdentity) DeleteUser(ctx context.Context, token, keycloakID string) error {
	f.gotTokens = append(f.gotTokens, token)
	f.deleteCalls = append(f.deleteCalls, keycloakID)
	return f.deleteErr
}

// fakeBus records publish attempts.
type recordedPublish struct {
	event      any
	exchange   string
	routingKey string
}

type fakeBus struct {
	mu        sync.Mutex
	published []recordedPublish
	err       error
}

func (b *fakeBus) Publish(ctx context.Context, event any, exchange, routingKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, recordedPublish{event: event, exchange: exchange, routingKey: routingKey})
	return b.err
}

func (b *fakeBus) publishes() []recordedPublish {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]recordedPublish{}, b.published...)
}

func newService(repo *fakeUserRepo, idp *fakeIdentity, bus *fakeBus) *UserService {
	return NewUserService(UserDependencies{UserRepo: repo, Identity: idp, Bus: bus}, zap.NewNop())
}

func seedUser(t *testing.T, repo *fakeUserRepo, keycloakID, name string) *domain.User {
	t.Helper()
	user := &domain.User{KeycloakID: keycloakID, Name: name, CreatedAt: time.Now().UTC()}
	if err := repo.Create(context.Background(), user); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func TestDeleteUserCompletesAndPublishesBothNotifications(t *testing.T) {
	repo := newFakeUserRepo()
	idp := &fakeIdentity{}
	bus := &fakeBus{}
	svc := newService(repo, idp, bus)

	user := seedUser(t, repo, "ext-42", "alice")

	outcome, err := svc.DeleteUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if outcome != DeletionCompleted {
		t.Fatalf("expected DeletionCompleted, got %v", outcome)
	}
	if repo.has(user.ID) {
		t.Fatalf("local record must be gone after completed deletion")
	}
	if len(idp.deleteCalls) != 1 || idp.deleteCalls[0] != "ext-42" {
		t.Fatalf("unexpected identity delete calls %v", idp.deleteCalls)
	}
	if idp.gotTokens[0] != "test-admin-token" {
		t.Fatalf("delete did not use the obtained token")
	}

	published := bus.publishes()
	if len(published) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(published))
	}
	exchanges := map[string]bool{}
	for _, p := range published {
		exchanges[p.exchange] = true
		if p.routingKey != messaging.RoutingKeyUserDeleted {
			t.Fatalf("unexpected routing key %q", p.routingKey)
		}
	}
	if !exchanges[messaging.ExchangeUserCommand] || !exchanges[messaging.ExchangeUserQuery] {
		t.Fatalf("expected one publish per audience, got %v", exchanges)
	}
}

func TestDeleteUserExternalFailureKeepsLocalRecord(t *testing.T) {
	repo := newFakeUserRepo()
	idp := &fakeIdentity{deleteErr: errors.New("403 from keycloak")}
	bus := &fakeBus{}
	svc := newService(repo, idp, bus)

	user := seedUser(t, repo, "ext-42", "alice")

	outcome, err := svc.DeleteUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("external failure must not surface an error: %v", err)
	}
	if outcome != DeletionSkipped {
		t.Fatalf("expected DeletionSkipped, got %v", outcome)
	}
	if !repo.has(user.ID) {
		t.Fatalf("local record must survive a failed external delete")
	}
	if len(bus.publishes()) != 0 {
		t.Fatalf("no notification may be published for a deletion that did not occur")
	}
}

func TestDeleteUserAuthFailureAbortsSaga(t *testing.T) {
	repo := newFakeUserRepo()
	idp := &fakeIdentity{tokenErr: errors.New("401 invalid_grant")}
	bus := &fakeBus{}
	svc := newService(repo, idp, bus)

	user := seedUser(t, repo, "ext-42", "alice")

	_, err := svc.DeleteUser(context.Background(), user.ID)
	var de *apperrors.DomainError
	if !errors.As(err, &de) || de.Code != "INTERNAL_ERROR" {
		t.Fatalf("expected internal error, got %v", err)
	}
	if !repo.has(user.ID) {
		t.Fatalf("auth failure must leave local state untouched")
	}
	if len(idp.deleteCalls) != 0 {
		t.Fatalf("delete must not run without a credential")
	}
	if len(bus.publishes()) != 0 {
		t.Fatalf("no notification expected")
	}
}

func TestDeleteUserNotFound(t *testing.T) {
	svc := newService(newFakeUserRepo(), &fakeIdentity{}, &fakeBus{})

	_, err := svc.DeleteUser(context.Background(), 404)
	var de *apperrors.DomainError
	if !errors.As(err, &de) || de.Code != "NOT_FOUND" {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestDeleteUserTwiceYieldsNotFoundSecondTime(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newService(repo, &fakeIdentity{}, &fakeBus{})

	user := seedUser(t, repo, "ext-42", "alice")

	if _, err := svc.DeleteUser(context.Background(), user.ID); err != nil {
		t.Fatalf("first delete: %v", err)
	}

	_, err := svc.DeleteUser(context.Background(), user.ID)
	var de *apperrors.DomainError
	if !errors.As(err, &de) || de.Code != "NOT_FOUND" {
		t.Fatalf("second delete should be not-found, got %v", err)
	}
}

func TestDeleteUserLocalFailureIsEscalated(t *testing.T) {
	repo := newFakeUserRepo()
	repo.deleteErr = errors.New("connection reset")
	idp := &fakeIdentity{}
	bus := &fakeBus{}
	svc := newService(repo, idp, bus)

	user := seedUser(t, repo, "ext-42", "alice")

	_, err := svc.DeleteUser(context.Background(), user.ID)
	var de *apperrors.DomainError
	if !errors.As(err, &de) || de.Code != "INTERNAL_ERROR" {
		t.Fatalf("diverged state must surface as internal error, got %v", err)
	}
	if len(bus.publishes()) != 0 {
		t.Fatalf("no notification may be published when the local delete failed")
	}
}

func TestDeleteUserPublishFailureDoesNotRollBack(t *testing.T) {
	repo := newFakeUserRepo()
	bus := &fakeBus{err: errors.New("channel closed")}
	svc := newService(repo, &fakeIdentity{}, bus)

	user := seedUser(t, repo, "ext-42", "alice")

	outcome, err := svc.DeleteUser(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("publish failure must not fail the saga: %v", err)
	}
	if outcome != DeletionCompleted {
		t.Fatalf("expected DeletionCompleted, got %v", outcome)
	}
	if repo.has(user.ID) {
		t.Fatalf("local deletion is authoritative regardless of notification delivery")
	}
	if len(bus.publishes()) != 2 {
		t.Fatalf("both publishes must still be attempted")
	}
}

func TestDeleteUserByKeycloakIDReentersSameWorkflow(t *testing.T) {
	repo := newFakeUserRepo()
	idp := &fakeIdentity{}
	bus := &fakeBus{}
	svc := newService(repo, idp, bus)

	user := seedUser(t, repo, "ext-77", "bob")

	outcome, err := svc.DeleteUserByKeycloakID(context.Background(), "ext-77")
	if err != nil {
		t.Fatalf("DeleteUserByKeycloakID: %v", err)
	}
	if outcome != DeletionCompleted {
		t.Fatalf("expected DeletionCompleted, got %v", outcome)
	}
	if repo.has(user.ID) {
		t.Fatalf("record should be deleted")
	}
	if len(bus.publishes()) != 2 {
		t.Fatalf("expected the standard two publishes, got %d", len(bus.publishes()))
	}

	_, err = svc.DeleteUserByKeycloakID(context.Background(), "ext-77")
	var de *apperrors.DomainError
	if !errors.As(err, &de) || de.Code != "NOT_FOUND" {
		t.Fatalf("expected not-found for unknown keycloak id, got %v", err)
	}
}

func TestCreateUserValidation(t *testing.T) {
	svc := newService(newFakeUserRepo(), &fakeIdentity{}, &fakeBus{})

	if _, err := svc.CreateUser(context.Background(), "", "alice"); err == nil {
		t.Fatalf("expected validation error for missing keycloak id")
	}
	if _, err := svc.CreateUser(context.Background(), "ext-1", " "); err == nil {
		t.Fatalf("expected validation error for blank name")
	}

	user, err := svc.CreateUser(context.Background(), "ext-1", "alice")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.ID == 0 || user.CreatedAt.IsZero() {
		t.Fatalf("id and created timestamp must be assigned")
	}
}

func TestUpdateUserChangesName(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newService(repo, &fakeIdentity{}, &fakeBus{})

	user := seedUser(t, repo, "ext-1", "alice")

	updated, err := svc.UpdateUser(context.Background(), user.ID, "alice-renamed")
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if updated.Name != "alice-renamed" {
		t.Fatalf("name not updated")
	}
	if updated.KeycloakID != "ext-1" {
		t.Fatalf("keycloak id must be immutable")
	}

	_, err = svc.UpdateUser(context.Background(), 9999, "ghost")
	var de *apperrors.DomainError
	if !errors.As(err, &de) || de.Code != "NOT_FOUND" {
		t.Fatalf("expected not-found, got %v", err)
	}
}
