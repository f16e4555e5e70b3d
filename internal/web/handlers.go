package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	meditone "github.com/cbegin/meditone-go"
)

type startRequest struct {
	Category    string   `json:"category" binding:"required"`
	Score       *float64 `json:"score"`
	Recommended bool     `json:"recommended"`
}

type volumeRequest struct {
	Volume *float64 `json:"volume" binding:"required"`
}

type interruptionRequest struct {
	Began        bool `json:"began"`
	ShouldResume bool `json:"shouldResume"`
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    s.ctl.Status(),
	})
}

func (s *Server) handleCategories(c *gin.Context) {
	set := s.ctl.Categories()
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"variant":          set.Name,
		"recommendedIntro": set.RecommendedIntro != "",
		"categories":       set.All(),
	})
}

func (s *Server) handleStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	// Scores outside [0, 1] are clamped when the category is banded.
	var score meditone.Score
	if req.Score != nil {
		score = meditone.ScoreOf(*req.Score)
	}

	if err := s.ctl.Start(req.Category, score, req.Recommended); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, meditone.ErrUnknownCategory):
			status = http.StatusNotFound
		case errors.Is(err, meditone.ErrClosed):
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    s.ctl.Status(),
	})
}

func (s *Server) handleStop(c *gin.Context) {
	s.ctl.Stop()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Session stopped",
	})
}

func (s *Server) handleSkip(c *gin.Context) {
	s.ctl.SkipIntro()
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    s.ctl.Status(),
	})
}

func (s *Server) handleVolume(c *gin.Context) {
	var req volumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if *req.Volume < 0 || *req.Volume > 1 {
		badRequest(c, "volume must be within [0, 1]")
		return
	}

	s.ctl.SetVolume(*req.Volume)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    s.ctl.Status(),
	})
}

func (s *Server) handleInterruption(c *gin.Context) {
	var req interruptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	s.ctl.HandleInterruption(meditone.Interruption{
		Began:        req.Began,
		ShouldResume: req.ShouldResume,
	})
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    s.ctl.Status(),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   msg,
	})
}
