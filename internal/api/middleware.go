package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

// RequestID tags every request with an id, reusing the caller's when present.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		slog.InfoContext(c.Request.Context(), "api: request served",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"request_id", c.GetString(requestIDHeader),
		)
	}
}

// Origins lists the browser origins allowed to call the API from another site. "*" allows any.
type Origins []string

func (o Origins) Allow(origin string) bool {
	for _, allowed := range o {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// sameOrigin reports whether the request carries no origin or one of its own host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
}

// CORS lets browser clients from the allowed origins send the admin token header.
func CORS(origins Origins) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: origins.Allow,
		AllowMethods:    []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", tokenHeader, requestIDHeader},
		ExposeHeaders:   []string{"Content-Length", "Content-Disposition", requestIDHeader},
		MaxAge:          12 * time.Hour,
	})
}
