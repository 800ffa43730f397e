package api

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/livequiz/internal/domain"
	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/event"
	"github.com/victornm/livequiz/internal/leaderboard"
	"github.com/victornm/livequiz/internal/session"
)

type Config struct {
	EventBus    *event.Bus
	Session     *session.Service
	Catalog     Catalog
	Auth        Authorizer
	Leaderboard *leaderboard.Service

	// Redis receives player notifications, nil disables them.
	Redis        Redis
	PubsubPrefix string

	// Origins may open player websockets from other sites.
	Origins Origins
}

type Catalog interface {
	GetQuiz(ctx context.Context, quizID int64) (domain.Quiz, error)
}

type Authorizer interface {
	ValidAdminSessionFor(ctx context.Context, token string, quizID int64) error
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	qss     *session.Service
	catalog Catalog
	auth    Authorizer
	ls      *leaderboard.Service
	hub     *hub

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		qss:     c.Session,
		catalog: c.Catalog,
		auth:    c.Auth,
		ls:      c.Leaderboard,
		hub:     newHub(c.Session, c.Origins),
		redis:   c.Redis,
		prefix:  c.PubsubPrefix,
	}

	// Register event handlers
	c.EventBus.Subscribe(domain.EventNamePhaseChanged, func(ctx context.Context, e event.Event) error {
		a.hub.broadcast(ctx, e.(domain.EventPhaseChanged))
		return nil
	})

	if a.redis != nil {
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
	}

	return a
}

// Register mounts the admin and player routes on r.
func (a *API) Register(r gin.IRouter) {
	v1 := r.Group("/v1")

	admin := v1.Group("/admin/quiz/:quizid", a.requireAdmin)
	admin.POST("/session/start", a.startSession)
	admin.GET("/sessions", a.listSessions)
	admin.PUT("/session/:sessionid", a.updateSession)
	admin.GET("/session/:sessionid", a.sessionStatus)
	admin.GET("/session/:sessionid/results", a.sessionResults)
	admin.GET("/session/:sessionid/results/csv", a.sessionResultsCSV)
	if a.ls != nil {
		admin.GET("/session/:sessionid/leaderboard", a.sessionLeaderboard)
	}

	v1.POST("/player/join", a.join)

	player := v1.Group("/player/:playerid")
	player.GET("", a.playerStatus)
	player.GET("/question/:position", a.questionInfo)
	player.PUT("/question/:position/answer", a.submitAnswer)
	player.GET("/question/:position/results", a.questionResult)
	player.GET("/results", a.playerResults)
	player.GET("/chat", a.listMessages)
	player.POST("/chat", a.sendMessage)
	player.GET("/ws", a.serveWS)
}

// Shutdown closes the open websocket connections.
func (a *API) Shutdown() {
	a.hub.close()
}

func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e.Message})
}

func paramInt(c *gin.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, errors.InvalidArgument("%s must be an integer", name)
	}

	return v, nil
}

func bindJSON(c *gin.Context, req any) error {
	if err := c.ShouldBindJSON(req); err != nil {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid request body"),
			errors.WithCause(err),
		)
	}

	return nil
}
