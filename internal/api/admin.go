package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/victornm/livequiz/internal/session"
)

const (
	tokenHeader = "token"
	quizIDKey   = "quizid"
)

// requireAdmin rejects requests whose token does not own the quiz in the path.
func (a *API) requireAdmin(c *gin.Context) {
	quizID, err := paramInt(c, "quizid")
	if err != nil {
		writeError(c, err)
		return
	}

	if err := a.auth.ValidAdminSessionFor(c.Request.Context(), c.GetHeader(tokenHeader), quizID); err != nil {
		writeError(c, err)
		return
	}

	c.Set(quizIDKey, quizID)
	c.Next()
}

type (
	StartSessionRequest struct {
		AutoStartNum int `json:"autoStartNum"`
	}

	StartSessionResponse struct {
		SessionID int64 `json:"sessionId"`
	}

	UpdateSessionRequest struct {
		Action string `json:"action"`
	}
)

func (a *API) startSession(c *gin.Context) {
	// The body is optional, auto start is off without it.
	var req StartSessionRequest
	if c.Request.ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			writeError(c, err)
			return
		}
	}

	quiz, err := a.catalog.GetQuiz(c.Request.Context(), c.GetInt64(quizIDKey))
	if err != nil {
		writeError(c, err)
		return
	}

	id, err := a.qss.StartSession(c.Request.Context(), session.StartSessionRequest{
		Quiz:         quiz,
		AutoStartNum: req.AutoStartNum,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, StartSessionResponse{SessionID: id})
}

func (a *API) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, a.qss.ListByQuiz(c.Request.Context(), c.GetInt64(quizIDKey)))
}

func (a *API) updateSession(c *gin.Context) {
	sessionID, err := paramInt(c, "sessionid")
	if err != nil {
		writeError(c, err)
		return
	}

	var req UpdateSessionRequest
	if err := bindJSON(c, &req); err != nil {
		writeError(c, err)
		return
	}

	err = a.qss.UpdateSession(c.Request.Context(), session.UpdateSessionRequest{
		QuizID:    c.GetInt64(quizIDKey),
		SessionID: sessionID,
		Action:    req.Action,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{})
}

func (a *API) sessionStatus(c *gin.Context) {
	sessionID, err := paramInt(c, "sessionid")
	if err != nil {
		writeError(c, err)
		return
	}

	st, err := a.qss.SessionStatus(c.Request.Context(), c.GetInt64(quizIDKey), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

func (a *API) sessionResults(c *gin.Context) {
	sessionID, err := paramInt(c, "sessionid")
	if err != nil {
		writeError(c, err)
		return
	}

	r, err := a.qss.SessionResults(c.Request.Context(), c.GetInt64(quizIDKey), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, r)
}

func (a *API) sessionResultsCSV(c *gin.Context) {
	sessionID, err := paramInt(c, "sessionid")
	if err != nil {
		writeError(c, err)
		return
	}

	csv, err := a.qss.SessionResultsCSV(c.Request.Context(), c.GetInt64(quizIDKey), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=session-"+strconv.FormatInt(sessionID, 10)+".csv")
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(csv))
}

func (a *API) sessionLeaderboard(c *gin.Context) {
	sessionID, err := paramInt(c, "sessionid")
	if err != nil {
		writeError(c, err)
		return
	}

	if _, err := a.qss.SessionStatus(c.Request.Context(), c.GetInt64(quizIDKey), sessionID); err != nil {
		writeError(c, err)
		return
	}

	l, err := a.ls.GetLeaderboard(c.Request.Context(), sessionID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, toLeaderboard(*l))
}
