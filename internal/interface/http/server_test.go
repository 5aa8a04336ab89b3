package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/civiclearn/internal/application/command"
	"github.com/alem-hub/civiclearn/internal/application/content"
	"github.com/alem-hub/civiclearn/internal/application/query"
	"github.com/alem-hub/civiclearn/internal/application/reward"
	"github.com/alem-hub/civiclearn/internal/application/saga"
	"github.com/alem-hub/civiclearn/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/civiclearn/internal/infrastructure/service"
	httpapi "github.com/alem-hub/civiclearn/internal/interface/http"
	"github.com/alem-hub/civiclearn/internal/interface/http/handlers"
	"github.com/alem-hub/civiclearn/pkg/logger"
	"github.com/alem-hub/civiclearn/pkg/timeutil"
)

const (
	apiKey    = "ck_test_7f3a9c"
	jwtSecret = "test-secret"
	issuer    = "civiclearn"
)

const bundleYAML = `
modules:
  - id: civics-101
    title: How government works
    xp_reward: 25
    lessons:
      - {id: l1, order_index: 1, xp_reward: 10}
      - {id: l2, order_index: 2, xp_reward: 10}
quizzes:
  - id: constitution
    time_limit_seconds: 600
    passing_score_percent: 50
    questions:
      - {id: q1, options: [a, b], correct_index: 1}
      - {id: q2, options: [a, b], correct_index: 0}
    tiers:
      - {min_score: 50, xp: 20}
badges:
  - id: hero
    name: Hero
    xp_reward: 15
challenges:
  - id: town-hall
    start_at: 2026-03-01T00:00:00Z
    end_at: 2026-05-01T00:00:00Z
    max_participants: 1
    xp_reward: 40
    badge_reward: hero
`

type testServer struct {
	t         *testing.T
	handler   http.Handler
	auth      *handlers.Authenticator
	community bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.Nop()
	store := memory.NewStore()
	clock := timeutil.NewFixedClock(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))
	registry := content.NewRegistry(store.Content(), log)
	awarder := reward.NewAwarder(service.NewIDGenerator())

	deps := command.Deps{
		UoW:     store,
		Content: registry,
		Awarder: awarder,
		Badges:  saga.NewBadgeReevaluation(awarder),
		Clock:   clock,
		IDs:     service.NewIDGenerator(),
		Logger:  log,
	}
	submit := command.NewSubmitQuizAttemptHandler(deps)
	cmds := handlers.Commands{
		CompleteLesson:    command.NewCompleteLessonHandler(deps),
		StartQuiz:         command.NewStartQuizAttemptHandler(deps),
		SubmitAnswer:      command.NewSubmitQuizAnswerHandler(deps, submit),
		SubmitQuiz:        submit,
		JoinChallenge:     command.NewJoinChallengeHandler(deps),
		CompleteChallenge: command.NewCompleteChallengeHandler(deps),
		Community:         command.NewRecordCommunityActivityHandler(deps),
	}

	hash, err := handlers.HashAPIKey(apiKey)
	require.NoError(t, err)

	ts := &testServer{t: t, community: true}
	ts.auth = handlers.NewAuthenticator([]string{hash}, jwtSecret, issuer, false, log)

	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("storage", handlers.NewPingCheck(store))

	cfg := httpapi.DefaultConfig()
	cfg.Mode = gin.TestMode
	server := httpapi.NewServer(cfg, httpapi.Dependencies{
		Events:   handlers.NewEventHandler(cmds, func() bool { return ts.community }, log),
		Progress: handlers.NewProgressHandler(query.NewGetLearnerProgressHandler(store, registry, nil, clock, log), log),
		Admin: handlers.NewAdminHandler(
			command.NewPublishContentHandler(store.Content(), registry, clock, nil, log),
			registry, store.Content(), log),
		Health: handlers.NewHealthHandler(checker),
		Auth:   ts.auth,
		Logger: log,
	})
	ts.handler = server.Handler()
	return ts
}

type header func(r *http.Request)

func withKey(r *http.Request) { r.Header.Set("X-API-Key", apiKey) }

func asYAML(r *http.Request) { r.Header.Set("Content-Type", "application/yaml") }

func withBearer(token string) header {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func (s *testServer) do(method, path, body string, headers ...header) *httptest.ResponseRecorder {
	s.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, h := range headers {
		h(req)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) publish() {
	s.t.Helper()
	rec := s.do(http.MethodPut, "/api/v1/admin/content", bundleYAML, withKey, asYAML)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env handlers.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env.Error.Code
}

func TestHealthNeedsNoCredentials(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = s.do(http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)
	path := "/api/v1/learners/ana/progress"

	rec := s.do(http.MethodGet, path, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, handlers.CodeUnauthorized, errorCode(t, rec))

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, path, "", func(r *http.Request) {
		r.Header.Set("X-API-Key", "wrong")
	}).Code)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, path, "", withKey).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, path, "", withKey).Code, "cached key digest")
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, path, "", withBearer(apiKey)).Code)

	token, err := s.auth.IssueToken("ui-gateway", "", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, path, "", withBearer(token)).Code)

	other := handlers.NewAuthenticator(nil, "another-secret", issuer, false, logger.Nop())
	forged, err := other.IssueToken("ui-gateway", handlers.RoleAdmin, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, path, "", withBearer(forged)).Code)

	expired, err := s.auth.IssueToken("ui-gateway", handlers.RoleAdmin, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, path, "", withBearer(expired)).Code)
}

func TestAdminRequiresRole(t *testing.T) {
	s := newTestServer(t)

	ingest, err := s.auth.IssueToken("ui-gateway", handlers.RoleIngest, time.Hour)
	require.NoError(t, err)
	rec := s.do(http.MethodGet, "/api/v1/admin/content", "", withBearer(ingest))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, handlers.CodeForbidden, errorCode(t, rec))

	admin, err := s.auth.IssueToken("editor", handlers.RoleAdmin, time.Hour)
	require.NoError(t, err)
	rec = s.do(http.MethodGet, "/api/v1/admin/content", "", withBearer(admin))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["initialized"])
}

func TestAdminPublishContent(t *testing.T) {
	s := newTestServer(t)
	s.publish()

	rec := s.do(http.MethodGet, "/api/v1/admin/content", "", withKey)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode(t, rec)
	assert.Equal(t, float64(1), status["version"])
	assert.Equal(t, float64(1), status["modules"])
	assert.Equal(t, true, status["initialized"])

	again := s.do(http.MethodPut, "/api/v1/admin/content", bundleYAML, withKey, asYAML)
	assert.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, true, decode(t, again)["duplicate"])

	broken := strings.Replace(bundleYAML, "order_index: 2", "order_index: 5", 1)
	rec = s.do(http.MethodPut, "/api/v1/admin/content", broken, withKey, asYAML)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, handlers.CodeConfiguration, errorCode(t, rec))

	rec = s.do(http.MethodPut, "/api/v1/admin/content", `{"modules": [], "surprise": 1}`, withKey)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(http.MethodGet, "/api/v1/admin/content/history?limit=5", "", withKey)
	require.Equal(t, http.StatusOK, rec.Code)
	versions := decode(t, rec)["versions"].([]any)
	assert.Len(t, versions, 1)

	rec = s.do(http.MethodGet, "/api/v1/admin/content/history?limit=0", "", withKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLessonCompletedStatuses(t *testing.T) {
	s := newTestServer(t)
	s.publish()

	rec := s.do(http.MethodPost, "/api/v1/events/lesson-completed", `{"learner_id":"ana","lesson_id":"l2"}`, withKey)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, handlers.CodeInvalidTransition, errorCode(t, rec))

	rec = s.do(http.MethodPost, "/api/v1/events/lesson-completed", `{"learner_id":"ana","lesson_id":"l1"}`, withKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, float64(10), body["xp_awarded"])
	assert.Equal(t, "l2", body["unlocked_lesson_id"])

	rec = s.do(http.MethodPost, "/api/v1/events/lesson-completed", `{"learner_id":"ana","lesson_id":"l1"}`, withKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["duplicate"])

	rec = s.do(http.MethodPost, "/api/v1/events/lesson-completed", `{"learner_id":"ana","lesson_id":"nope"}`, withKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/events/lesson-completed", `{"learner_id":"ana"}`, withKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, handlers.CodeValidation, errorCode(t, rec))

	rec = s.do(http.MethodGet, "/api/v1/learners/ana/progress", "", withKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(10), decode(t, rec)["total_xp"])
}

func TestQuizFlow(t *testing.T) {
	s := newTestServer(t)
	s.publish()

	rec := s.do(http.MethodPost, "/api/v1/events/quiz-attempts", `{"learner_id":"ana","quiz_id":"constitution"}`, withKey)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	attemptID := decode(t, rec)["attempt_id"].(string)
	base := "/api/v1/events/quiz-attempts/" + attemptID

	rec = s.do(http.MethodPost, base+"/answers", `{"question_id":"q1","answer_index":1}`, withKey)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodPost, base+"/answers", `{"question_id":"q2"}`, withKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "answer_index is required")

	rec = s.do(http.MethodPost, base+"/answers", `{"attempt_id":"other","question_id":"q2","answer_index":0}`, withKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, base+"/answers", `{"question_id":"q2","answer_index":9}`, withKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, base+"/submit", "", withKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode(t, rec)
	assert.Equal(t, float64(50), result["score_percent"])
	assert.Equal(t, true, result["passed"])
	assert.Equal(t, float64(20), result["xp_awarded"])

	rec = s.do(http.MethodPost, base+"/answers", `{"question_id":"q2","answer_index":0}`, withKey)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, handlers.CodeAttemptLocked, errorCode(t, rec))

	rec = s.do(http.MethodPost, "/api/v1/events/quiz-attempts/missing/submit", "", withKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChallengeCapacity(t *testing.T) {
	s := newTestServer(t)
	s.publish()

	rec := s.do(http.MethodPost, "/api/v1/events/challenge-joined", `{"learner_id":"ana","challenge_id":"town-hall"}`, withKey)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/api/v1/events/challenge-joined", `{"learner_id":"bob","challenge_id":"town-hall"}`, withKey)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, handlers.CodeCapacityExceeded, errorCode(t, rec))

	rec = s.do(http.MethodPost, "/api/v1/events/challenge-completed", `{"learner_id":"ana","challenge_id":"town-hall"}`, withKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(40), decode(t, rec)["xp_awarded"])
}

func TestCommunityActivityToggle(t *testing.T) {
	s := newTestServer(t)
	s.publish()
	body := `{"learner_id":"ana","kind":"post","external_id":"p-1"}`

	rec := s.do(http.MethodPost, "/api/v1/events/community-activity", body, withKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["community_posts"])

	s.community = false
	rec = s.do(http.MethodPost, "/api/v1/events/community-activity", body, withKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/nowhere", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, handlers.CodeNotFound, errorCode(t, rec))
}

func TestRequestIDIsPropagated(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/health", "", func(r *http.Request) {
		r.Header.Set("X-Request-Id", "req-42")
	})
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-Id"))
}
