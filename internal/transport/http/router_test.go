package httptransport_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ErlanBelekov/recurring-action-scheduler/internal/actiondispatcher"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/bootstrap"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/domain"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/scheduler"
	httptransport "github.com/ErlanBelekov/recurring-action-scheduler/internal/transport/http"
	"github.com/ErlanBelekov/recurring-action-scheduler/internal/transport/http/handler"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const routerTestKey = "router-test-secret-32-characters!"

type fakeRouterRepo struct {
	mu    sync.Mutex
	tasks map[string]*domain.Task
}

func newFakeRouterRepo() *fakeRouterRepo { return &fakeRouterRepo{tasks: map[string]*domain.Task{}} }

func (r *fakeRouterRepo) Save(_ context.Context, task *domain.Task) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *task
	r.tasks[task.ID] = &cp
	return &cp, nil
}

func (r *fakeRouterRepo) FindByID(_ context.Context, id string) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *fakeRouterRepo) FindActive(_ context.Context) ([]*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Task
	for _, t := range r.tasks {
		if t.Status == domain.StatusActive {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRouterRepo) FindByUserID(_ context.Context, userID string) ([]*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Task
	for _, t := range r.tasks {
		if t.UserID == userID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRouterRepo) FindByNextExecutionTimeBefore(_ context.Context, cutoff time.Time) ([]*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Task
	for _, t := range r.tasks {
		if t.NextExecution != nil && !t.NextExecution.After(cutoff) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRouterRepo) Delete(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return false, nil
	}
	delete(r.tasks, id)
	return true, nil
}

func (r *fakeRouterRepo) Exists(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tasks[id]
	return ok, nil
}

type fakeRouterDispatcher struct{}

func (fakeRouterDispatcher) Execute(context.Context, string, domain.ActionKind, domain.ActionParams, actiondispatcher.ExecuteInput) (actiondispatcher.ExecuteResult, error) {
	return actiondispatcher.ExecuteResult{Success: true}, nil
}

type fakeRouterPinger struct{}

func (fakeRouterPinger) Ping(context.Context) error { return nil }

func newRouterFixture(t *testing.T) *gin.Engine {
	t.Helper()
	s := bootstrap.New(bootstrap.Options{
		Repo:       newFakeRouterRepo(),
		Dispatcher: fakeRouterDispatcher{},
		DB:         fakeRouterPinger{},
		Logger:     slog.Default(),
		EngineCfg:  scheduler.DefaultEngineConfig(),
		ExecCfg:    scheduler.DefaultExecutorConfig(),
	})
	op := handler.NewOperatorHandler(s, slog.Default())
	return httptransport.NewRouter(op, []byte(routerTestKey), slog.Default())
}

func signedToken(t *testing.T) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "operator-1", "exp": time.Now().Add(time.Hour).Unix()}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(routerTestKey))
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return s
}

func TestRouter_Healthz_IsPublic(t *testing.T) {
	r := newRouterFixture(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRouter_Status_RequiresAuth(t *testing.T) {
	r := newRouterFixture(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without a bearer token", w.Code)
	}
}

func TestRouter_Status_WithValidToken_Returns200(t *testing.T) {
	r := newRouterFixture(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t))
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestRouter_ExecuteDue_RequiresAuth(t *testing.T) {
	r := newRouterFixture(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/execute-due", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without a bearer token", w.Code)
	}
}

func TestRouter_PropagatesRequestID(t *testing.T) {
	r := newRouterFixture(t)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "fixed-request-id")
	r.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "fixed-request-id" {
		t.Errorf("X-Request-ID = %q, want it preserved from the incoming request", got)
	}
}
