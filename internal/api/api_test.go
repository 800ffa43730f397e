package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/livequiz/internal/api"
	"github.com/victornm/livequiz/internal/auth"
	"github.com/victornm/livequiz/internal/catalog"
	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/scheduler"
	"github.com/victornm/livequiz/internal/scheduler/schedulertest"
	"github.com/victornm/livequiz/internal/session"
)

const (
	allowedOrigin = "https://quiz.example"

	quizID  = 7
	ownerID = 1
	prefix  = "livequiz"
)

type env struct {
	handler http.Handler
	api     *api.API
	svc     *session.Service
	timers  *schedulertest.Manual
	rc      redis.UniversalClient
	token   string
	auth    *auth.Service
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		QuizID:  quizID,
		OwnerID: ownerID,
		Name:    "Capitals",
		Questions: []domain.Question{
			{
				QuestionID:      100,
				Text:            "Capital of France?",
				DurationSeconds: 10,
				Points:          10,
				Answers: []domain.Answer{
					{AnswerID: 11, Text: "Paris", Correct: true},
					{AnswerID: 12, Text: "Lyon"},
				},
			},
		},
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})

	eb := event.NewBus()
	timers := schedulertest.New()
	svc := session.NewService(session.Config{
		EventBus:  eb,
		Scheduler: scheduler.New(scheduler.Config{AfterFunc: timers.AfterFunc}),
	})

	quizzes := catalog.NewCache(catalog.CacheConfig{Loader: catalog.NewStaticLoader(sampleQuiz())})
	as, err := auth.NewService(auth.Config{Secret: "secret", Quizzes: quizzes})
	require.NoError(t, err)
	token, err := as.IssueToken(ownerID)
	require.NoError(t, err)

	a := api.New(api.Config{
		EventBus: eb,
		Session:  svc,
		Catalog:  quizzes,
		Auth:     as,
		Leaderboard: leaderboard.NewService(leaderboard.Config{
			EventBus: eb,
			Redis:    rc,
			Prefix:   prefix,
		}),
		Redis:        rc,
		PubsubPrefix: prefix,
		Origins:      api.Origins{allowedOrigin},
	})

	r := gin.New()
	r.Use(api.RequestID(), api.CORS(api.Origins{allowedOrigin}))
	a.Register(r)

	t.Cleanup(func() {
		a.Shutdown()
		svc.Stop()
		eb.Stop()
	})

	return &env{handler: r, api: a, svc: svc, timers: timers, rc: rc, token: token, auth: as}
}

func (e *env) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("token", token)
	}

	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *env) startSession(t *testing.T) int64 {
	t.Helper()

	w := e.do(http.MethodPost, fmt.Sprintf("/v1/admin/quiz/%d/session/start", quizID), e.token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[api.StartSessionResponse](t, w).SessionID
}

func (e *env) join(t *testing.T, sessionID int64, name string) int64 {
	t.Helper()

	w := e.do(http.MethodPost, "/v1/player/join", "", api.JoinRequest{SessionID: sessionID, Name: name})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[api.JoinResponse](t, w).PlayerID
}

func (e *env) action(t *testing.T, sessionID int64, action domain.Action) {
	t.Helper()

	w := e.do(http.MethodPut, fmt.Sprintf("/v1/admin/quiz/%d/session/%d", quizID, sessionID), e.token, api.UpdateSessionRequest{Action: string(action)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestAPI_AdminAuth(t *testing.T) {
	e := newEnv(t)

	other, err := e.auth.IssueToken(ownerID + 1)
	require.NoError(t, err)

	tests := map[string]struct {
		path     string
		token    string
		wantCode int
	}{
		"owner": {
			path:     fmt.Sprintf("/v1/admin/quiz/%d/sessions", quizID),
			token:    e.token,
			wantCode: http.StatusOK,
		},

		"missing token": {
			path:     fmt.Sprintf("/v1/admin/quiz/%d/sessions", quizID),
			wantCode: http.StatusUnauthorized,
		},

		"malformed token": {
			path:     fmt.Sprintf("/v1/admin/quiz/%d/sessions", quizID),
			token:    "not-a-jwt",
			wantCode: http.StatusUnauthorized,
		},

		"not the owner": {
			path:     fmt.Sprintf("/v1/admin/quiz/%d/sessions", quizID),
			token:    other,
			wantCode: http.StatusForbidden,
		},

		"unknown quiz": {
			path:     "/v1/admin/quiz/99/sessions",
			token:    e.token,
			wantCode: http.StatusForbidden,
		},

		"quiz id is not a number": {
			path:     "/v1/admin/quiz/abc/sessions",
			token:    e.token,
			wantCode: http.StatusBadRequest,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			w := e.do(http.MethodGet, tt.path, tt.token, nil)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
		})
	}
}

func TestAPI_SessionFlow(t *testing.T) {
	e := newEnv(t)
	sid := e.startSession(t)
	ada := e.join(t, sid, "Ada")
	grace := e.join(t, sid, "Grace")

	w := e.do(http.MethodGet, fmt.Sprintf("/v1/admin/quiz/%d/sessions", quizID), e.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.SessionList{Active: []int64{sid}, Inactive: []int64{}}, decode[domain.SessionList](t, w))

	e.action(t, sid, domain.ActionNextQuestion)
	require.True(t, e.timers.FireNext())

	w = e.do(http.MethodGet, fmt.Sprintf("/v1/player/%d", ada), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.PlayerStatus{Phase: domain.PhaseQuestionOpen, TotalQuestions: 1, AtQuestion: 1}, decode[domain.PlayerStatus](t, w))

	w = e.do(http.MethodGet, fmt.Sprintf("/v1/player/%d/question/1", ada), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "correct")
	assert.Equal(t, sampleQuiz().Questions[0].View(), decode[domain.QuestionView](t, w))

	answer := func(player int64, ids ...int64) *httptest.ResponseRecorder {
		return e.do(http.MethodPut, fmt.Sprintf("/v1/player/%d/question/1/answer", player), "", api.SubmitAnswerRequest{AnswerIDs: ids})
	}
	require.Equal(t, http.StatusOK, answer(ada, 11).Code)
	require.Equal(t, http.StatusConflict, answer(ada, 11).Code)
	require.Equal(t, http.StatusBadRequest, answer(grace, 99).Code)
	require.Equal(t, http.StatusOK, answer(grace, 12).Code)

	e.action(t, sid, domain.ActionGoToAnswer)

	w = e.do(http.MethodGet, fmt.Sprintf("/v1/player/%d/question/1/results", grace), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	qr := decode[domain.QuestionResult](t, w)
	assert.Equal(t, []domain.CorrectBreakdown{{AnswerID: 11, PlayersCorrect: []string{"Ada"}}}, qr.CorrectBreakdown)
	assert.InDelta(t, 50, qr.PercentCorrect, 1e-9)

	e.action(t, sid, domain.ActionGoToFinalResults)

	w = e.do(http.MethodGet, fmt.Sprintf("/v1/admin/quiz/%d/session/%d/results", quizID, sid), e.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []domain.RankedPlayer{{Name: "Ada", Score: 10}, {Name: "Grace", Score: 0}}, decode[domain.FinalResult](t, w).UsersRankedByScore)

	w = e.do(http.MethodGet, fmt.Sprintf("/v1/player/%d/results", grace), "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = e.do(http.MethodGet, fmt.Sprintf("/v1/admin/quiz/%d/session/%d/results/csv", quizID, sid), e.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "Player,question1score,question1rank\nAda,10.0,1\nGrace,0.0,0\n", w.Body.String())

	require.Eventually(t, func() bool {
		w := e.do(http.MethodGet, fmt.Sprintf("/v1/admin/quiz/%d/session/%d/leaderboard", quizID, sid), e.token, nil)
		if w.Code != http.StatusOK {
			return false
		}
		l := decode[api.Leaderboard](t, w)
		return assert.ObjectsAreEqual(api.Leaderboard{
			SessionID: sid,
			Entries:   []api.LeaderboardEntry{{Name: "Ada", Score: "10"}},
		}, l)
	}, 2*time.Second, 10*time.Millisecond)

	e.action(t, sid, domain.ActionEnd)

	w = e.do(http.MethodGet, fmt.Sprintf("/v1/admin/quiz/%d/session/%d", quizID, sid), e.token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[domain.SessionStatus](t, w)
	assert.Equal(t, domain.PhaseEnd, st.Phase)
	assert.Equal(t, []string{"Ada", "Grace"}, st.Players)
}

func TestAPI_Errors(t *testing.T) {
	e := newEnv(t)
	sid := e.startSession(t)
	ada := e.join(t, sid, "Ada")

	tests := map[string]struct {
		method   string
		path     string
		token    string
		body     any
		wantCode int
	}{
		"unknown action": {
			method:   http.MethodPut,
			path:     fmt.Sprintf("/v1/admin/quiz/%d/session/%d", quizID, sid),
			token:    e.token,
			body:     api.UpdateSessionRequest{Action: "JUMP"},
			wantCode: http.StatusBadRequest,
		},

		"illegal action": {
			method:   http.MethodPut,
			path:     fmt.Sprintf("/v1/admin/quiz/%d/session/%d", quizID, sid),
			token:    e.token,
			body:     api.UpdateSessionRequest{Action: string(domain.ActionGoToAnswer)},
			wantCode: http.StatusBadRequest,
		},

		"unknown session": {
			method:   http.MethodGet,
			path:     fmt.Sprintf("/v1/admin/quiz/%d/session/%d", quizID, sid+1),
			token:    e.token,
			wantCode: http.StatusNotFound,
		},

		"results before final": {
			method:   http.MethodGet,
			path:     fmt.Sprintf("/v1/admin/quiz/%d/session/%d/results", quizID, sid),
			token:    e.token,
			wantCode: http.StatusBadRequest,
		},

		"auto start above the limit": {
			method:   http.MethodPost,
			path:     fmt.Sprintf("/v1/admin/quiz/%d/session/start", quizID),
			token:    e.token,
			body:     api.StartSessionRequest{AutoStartNum: 51},
			wantCode: http.StatusBadRequest,
		},

		"duplicate name": {
			method:   http.MethodPost,
			path:     "/v1/player/join",
			body:     api.JoinRequest{SessionID: sid, Name: "Ada"},
			wantCode: http.StatusConflict,
		},

		"unknown player": {
			method:   http.MethodGet,
			path:     fmt.Sprintf("/v1/player/%d", ada+1),
			wantCode: http.StatusNotFound,
		},

		"player id is not a number": {
			method:   http.MethodGet,
			path:     "/v1/player/ada",
			wantCode: http.StatusBadRequest,
		},

		"question in lobby": {
			method:   http.MethodGet,
			path:     fmt.Sprintf("/v1/player/%d/question/1", ada),
			wantCode: http.StatusBadRequest,
		},

		"position is not a number": {
			method:   http.MethodGet,
			path:     fmt.Sprintf("/v1/player/%d/question/first", ada),
			wantCode: http.StatusBadRequest,
		},

		"malformed body": {
			method:   http.MethodPost,
			path:     "/v1/player/join",
			body:     "not an object",
			wantCode: http.StatusBadRequest,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			w := e.do(tt.method, tt.path, tt.token, tt.body)
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())

			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAPI_Chat(t *testing.T) {
	e := newEnv(t)
	sid := e.startSession(t)
	ada := e.join(t, sid, "Ada")
	grace := e.join(t, sid, "Grace")

	var req api.SendMessageRequest
	req.Message.Body = "hello"
	w := e.do(http.MethodPost, fmt.Sprintf("/v1/player/%d/chat", ada), "", req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	req.Message.Body = ""
	w = e.do(http.MethodPost, fmt.Sprintf("/v1/player/%d/chat", ada), "", req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(http.MethodGet, fmt.Sprintf("/v1/player/%d/chat", grace), "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	got := decode[struct {
		Messages []domain.Message `json:"messages"`
	}](t, w)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "hello", got.Messages[0].Body)
	assert.Equal(t, "Ada", got.Messages[0].PlayerName)
	assert.Equal(t, ada, got.Messages[0].PlayerID)
}

func TestAPI_RequestID(t *testing.T) {
	e := newEnv(t)

	w := e.do(http.MethodGet, "/v1/player/1", "", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}

func TestAPI_WebSocket(t *testing.T) {
	e := newEnv(t)
	sid := e.startSession(t)
	ada := e.join(t, sid, "Ada")

	srv := httptest.NewServer(e.handler)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + fmt.Sprintf("/v1/player/%d/ws", ada)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	type notification struct {
		Event string              `json:"event"`
		Data  domain.PlayerStatus `json:"data"`
	}
	read := func() notification {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var n notification
		require.NoError(t, conn.ReadJSON(&n))
		return n
	}

	n := read()
	assert.Equal(t, domain.EventNamePhaseChanged, n.Event)
	assert.Equal(t, domain.PhaseLobby, n.Data.Phase)

	e.action(t, sid, domain.ActionNextQuestion)

	n = read()
	assert.Equal(t, domain.PhaseQuestionCountdown, n.Data.Phase)
	assert.Equal(t, 1, n.Data.AtQuestion)

	_, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/player/99/ws", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
}

func TestAPI_Origins(t *testing.T) {
	e := newEnv(t)
	sid := e.startSession(t)
	ada := e.join(t, sid, "Ada")

	srv := httptest.NewServer(e.handler)
	t.Cleanup(srv.Close)

	path := fmt.Sprintf("/v1/player/%d", ada)
	for name, tt := range map[string]struct {
		origin string
		want   int
	}{
		"no origin":      {origin: "", want: http.StatusOK},
		"same origin":    {origin: srv.URL, want: http.StatusOK},
		"allowed origin": {origin: allowedOrigin, want: http.StatusOK},
		"foreign origin": {origin: "https://evil.example", want: http.StatusForbidden},
	} {
		t.Run(name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
			require.NoError(t, err)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			res, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			res.Body.Close()
			assert.Equal(t, tt.want, res.StatusCode)

			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+path+"/ws", header)
			if resp != nil {
				defer resp.Body.Close()
			}
			if tt.want != http.StatusOK {
				require.ErrorIs(t, err, websocket.ErrBadHandshake)
				assert.Equal(t, tt.want, resp.StatusCode)
				return
			}
			require.NoError(t, err)
			conn.Close()
		})
	}
}

func TestAPI_PublishLeaderboardUpdated(t *testing.T) {
	e := newEnv(t)
	sid := e.startSession(t)
	ada := e.join(t, sid, "Ada")
	grace := e.join(t, sid, "Grace")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	ps := e.rc.Subscribe(ctx,
		fmt.Sprintf("%s:player:%d", prefix, ada),
		fmt.Sprintf("%s:player:%d", prefix, grace),
	)
	defer ps.Close()
	for range 2 {
		_, err := ps.Receive(ctx)
		require.NoError(t, err)
	}

	err := e.api.PublishLeaderboardUpdated(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: domain.Leaderboard{
			SessionID: sid,
			Entries:   []domain.LeaderboardEntry{{Player: "Ada", Score: 7.5}},
		},
	})
	require.NoError(t, err)

	want := `{"event":"leaderboard.updated","data":{"sessionId":1,"entries":[{"name":"Ada","score":"7.5"}]}}`
	got := make(map[string]string)
	for range 2 {
		msg, err := ps.ReceiveMessage(ctx)
		require.NoError(t, err)
		got[msg.Channel] = msg.Payload
	}

	assert.Equal(t, map[string]string{
		fmt.Sprintf("%s:player:%d", prefix, ada):   want,
		fmt.Sprintf("%s:player:%d", prefix, grace): want,
	}, got)
}
