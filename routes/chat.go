package routes

import (
	"errors"
	"time"

	"arxiv-chatbot/internal/logger"
	"arxiv-chatbot/internal/session"
	"arxiv-chatbot/models"
	"arxiv-chatbot/services"
	"arxiv-chatbot/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SetupChatRoutes wires the chat surface: session management, corpus
// loading, and conversational turns.
func SetupChatRoutes(router *gin.Engine, sessions *session.Store, corpus *services.CorpusService, engine *services.RAGEngine) {
	router.POST("/session/new", func(c *gin.Context) {
		id := uuid.NewString()
		sessions.GetOrCreate(id)
		c.JSON(200, gin.H{"session_id": id})
	})

	router.POST("/corpus/search", func(c *gin.Context) {
		var req models.SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}
		if req.Query == "" && len(req.Queries) == 0 {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": "either query or queries is required"})
			return
		}

		result, err := corpus.StartNewCorpus(c.Request.Context(), req)
		if err != nil {
			logger.Error("Corpus build failed", "session", req.SessionID, "error", err)
			utils.RespondWithBadGateway(c, "Failed to build corpus from search results", gin.H{"error": err.Error()})
			return
		}

		c.JSON(200, models.SearchResponse{
			SessionID:  req.SessionID,
			Loaded:     result.Loaded,
			ChunkCount: result.ChunkCount,
			Papers:     result.Papers,
		})
	})

	router.POST("/chat/send", func(c *gin.Context) {
		var req models.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}

		sess := sessions.GetOrCreate(req.SessionID)
		if sess.Index() == nil {
			// Rejected before the engine: there is nothing to retrieve
			// against, so no turn is recorded.
			utils.RespondWithConflict(c, "no_corpus", "No papers loaded yet. Search for papers first.")
			return
		}

		turn, err := engine.SubmitQuery(c.Request.Context(), sess, req.Message)
		if err != nil {
			if errors.Is(err, services.ErrNoCorpus) {
				utils.RespondWithConflict(c, "no_corpus", "No papers loaded yet. Search for papers first.")
				return
			}
			utils.RespondWithInternalError(c, "Failed to process chat turn", gin.H{"error": err.Error()})
			return
		}

		c.JSON(200, models.ChatResponse{
			SessionID: req.SessionID,
			Reply:     turn.Text,
			Sources:   turn.Sources,
			Timestamp: turn.Timestamp,
		})
	})

	router.GET("/chat/history/:session_id", func(c *gin.Context) {
		id := c.Param("session_id")
		sess := sessions.GetOrCreate(id)
		c.JSON(200, models.HistoryResponse{
			SessionID: id,
			Turns:     sess.History(),
		})
	})

	router.POST("/chat/reset", func(c *gin.Context) {
		var req struct {
			SessionID string `json:"session_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.RespondWithBadRequest(c, "Invalid request data", gin.H{"error": err.Error()})
			return
		}
		sessions.GetOrCreate(req.SessionID).Reset()
		c.JSON(200, gin.H{"session_id": req.SessionID, "reset_at": time.Now()})
	})
}
