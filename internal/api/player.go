package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/victornm/livequiz/internal/errors"
	"github.com/victornm/livequiz/internal/session"
)

type (
	JoinRequest struct {
		SessionID int64  `json:"sessionId"`
		Name      string `json:"name"`
	}

	JoinResponse struct {
		PlayerID int64 `json:"playerId"`
	}

	SubmitAnswerRequest struct {
		AnswerIDs []int64 `json:"answerIds"`
	}

	SendMessageRequest struct {
		Message struct {
			Body string `json:"messageBody"`
		} `json:"message"`
	}
)

func (a *API) join(c *gin.Context) {
	var req JoinRequest
	if err := bindJSON(c, &req); err != nil {
		writeError(c, err)
		return
	}

	id, err := a.qss.Join(c.Request.Context(), session.JoinRequest{
		SessionID: req.SessionID,
		Name:      req.Name,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, JoinResponse{PlayerID: id})
}

func (a *API) playerStatus(c *gin.Context) {
	playerID, err := paramInt(c, "playerid")
	if err != nil {
		writeError(c, err)
		return
	}

	st, err := a.qss.PlayerStatus(c.Request.Context(), playerID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

func playerAndPosition(c *gin.Context) (int64, int, error) {
	playerID, err := paramInt(c, "playerid")
	if err != nil {
		return 0, 0, err
	}

	position, err := strconv.Atoi(c.Param("position"))
	if err != nil {
		return 0, 0, errors.InvalidArgument("position must be an integer")
	}

	return playerID, position, nil
}

func (a *API) questionInfo(c *gin.Context) {
	playerID, position, err := playerAndPosition(c)
	if err != nil {
		writeError(c, err)
		return
	}

	q, err := a.qss.QuestionInfo(c.Request.Context(), playerID, position)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, q)
}

func (a *API) submitAnswer(c *gin.Context) {
	playerID, position, err := playerAndPosition(c)
	if err != nil {
		writeError(c, err)
		return
	}

	var req SubmitAnswerRequest
	if err := bindJSON(c, &req); err != nil {
		writeError(c, err)
		return
	}

	err = a.qss.SubmitAnswer(c.Request.Context(), session.SubmitAnswerRequest{
		PlayerID:  playerID,
		Position:  position,
		AnswerIDs: req.AnswerIDs,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{})
}

func (a *API) questionResult(c *gin.Context) {
	playerID, position, err := playerAndPosition(c)
	if err != nil {
		writeError(c, err)
		return
	}

	r, err := a.qss.QuestionResult(c.Request.Context(), playerID, position)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, r)
}

func (a *API) playerResults(c *gin.Context) {
	playerID, err := paramInt(c, "playerid")
	if err != nil {
		writeError(c, err)
		return
	}

	r, err := a.qss.PlayerResults(c.Request.Context(), playerID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, r)
}

func (a *API) listMessages(c *gin.Context) {
	playerID, err := paramInt(c, "playerid")
	if err != nil {
		writeError(c, err)
		return
	}

	msgs, err := a.qss.ListMessages(c.Request.Context(), playerID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

func (a *API) sendMessage(c *gin.Context) {
	playerID, err := paramInt(c, "playerid")
	if err != nil {
		writeError(c, err)
		return
	}

	var req SendMessageRequest
	if err := bindJSON(c, &req); err != nil {
		writeError(c, err)
		return
	}

	err = a.qss.SendMessage(c.Request.Context(), session.SendMessageRequest{
		PlayerID: playerID,
		Body:     req.Message.Body,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{})
}
