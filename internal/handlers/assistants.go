package handlers

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/auraa-ai/billing/internal/llm"
	"github.com/auraa-ai/billing/pkg/logging"
)

type DeployAssistantRequest struct {
	TemplateID string `json:"template_id" binding:"required"`
	Name       string `json:"name"`
}

// DeployAssistant creates an assistant for the authenticated user from a
// catalog template.
func DeployAssistant(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req DeployAssistantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	var templateName, role, systemPrompt string
	err := db.QueryRowContext(ctx, `
		SELECT name, role, system_prompt FROM bursar.assistant_templates WHERE id = $1
	`, req.TemplateID).Scan(&templateName, &role, &systemPrompt)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("template_id", req.TemplateID).Error("Failed to fetch assistant template")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deploy assistant"})
		return
	}

	name := req.Name
	if name == "" {
		name = templateName
	}

	assistantID := uuid.New().String()
	if _, err := db.ExecContext(ctx, `
		INSERT INTO bursar.assistants (id, user_id, template_id, name, system_prompt, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'active', NOW(), NOW())
	`, assistantID, userID, req.TemplateID, name, systemPrompt); err != nil {
		logger.WithError(err).WithField("user_id", userID).Error("Failed to create assistant")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deploy assistant"})
		return
	}

	logger.WithFields(logging.Fields{
		"assistant_id": assistantID,
		"user_id":      userID,
		"template_id":  req.TemplateID,
	}).Info("Deployed assistant")

	c.JSON(http.StatusCreated, gin.H{
		"id":          assistantID,
		"name":        name,
		"role":        role,
		"template_id": req.TemplateID,
		"status":      "active",
	})
}

type ChatRequest struct {
	Message string `json:"message" binding:"required"`
}

// ChatWithAssistant forwards the user's message to the LLM provider with
// the assistant's persona prompt and records the turn as a task row.
func ChatWithAssistant(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	assistantID := c.Param("id")

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 60*time.Second)
	defer cancel()

	var systemPrompt, status string
	err := db.QueryRowContext(ctx, `
		SELECT system_prompt, status FROM bursar.assistants WHERE id = $1 AND user_id = $2
	`, assistantID, userID).Scan(&systemPrompt, &status)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Assistant not found"})
		return
	}
	if err != nil {
		logger.WithError(err).WithField("assistant_id", assistantID).Error("Failed to fetch assistant")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to chat with assistant"})
		return
	}
	if status != "active" {
		c.JSON(http.StatusConflict, gin.H{"error": "Assistant is not active"})
		return
	}

	start := time.Now()
	completion, llmErr := llmProvider.Complete(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: req.Message},
	})
	latencyMs := time.Since(start).Milliseconds()

	taskID := uuid.New().String()
	taskStatus := "completed"
	reply := ""
	errText := ""
	var promptTokens, completionTokens int
	if llmErr != nil {
		taskStatus = "failed"
		errText = llmErr.Error()
	} else {
		reply = completion.Content
		promptTokens = completion.PromptTokens
		completionTokens = completion.CompletionTokens
	}

	if _, err := db.ExecContext(ctx, `
		INSERT INTO bursar.assistant_tasks (id, assistant_id, user_id, prompt, reply, status, error, latency_ms, prompt_tokens, completion_tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`, taskID, assistantID, userID, req.Message, reply, taskStatus, errText, latencyMs, promptTokens, completionTokens); err != nil {
		logger.WithError(err).WithField("assistant_id", assistantID).Error("Failed to record assistant task")
	}

	recordAssistantTask(taskStatus)

	if llmErr != nil {
		logger.WithError(llmErr).WithField("assistant_id", assistantID).Error("LLM completion failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to chat with assistant"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":    taskID,
		"reply":      reply,
		"latency_ms": latencyMs,
	})
}

// GetAssistantMetrics computes task totals, success rate, and average
// latency over the assistant's stored task rows.
func GetAssistantMetrics(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	assistantID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	rows, err := db.QueryContext(ctx, `
		SELECT t.status, t.latency_ms
		FROM bursar.assistant_tasks t
		JOIN bursar.assistants a ON t.assistant_id = a.id
		WHERE t.assistant_id = $1 AND a.user_id = $2
	`, assistantID, userID)
	if err != nil {
		logger.WithError(err).WithField("assistant_id", assistantID).Error("Failed to fetch assistant tasks")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute metrics"})
		return
	}
	defer rows.Close()

	var total, succeeded int
	var latencySum int64
	for rows.Next() {
		var status string
		var latencyMs int64
		if err := rows.Scan(&status, &latencyMs); err != nil {
			continue
		}
		total++
		latencySum += latencyMs
		if status == "completed" {
			succeeded++
		}
	}

	successRate := 0.0
	avgLatency := int64(0)
	if total > 0 {
		successRate = float64(succeeded) / float64(total)
		avgLatency = latencySum / int64(total)
	}

	c.JSON(http.StatusOK, gin.H{
		"assistant_id":   assistantID,
		"tasks_total":    total,
		"success_rate":   successRate,
		"avg_latency_ms": avgLatency,
	})
}

// ListAssistantTasks returns the assistant's recent task history.
func ListAssistantTasks(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	assistantID := c.Param("id")

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	rows, err := db.QueryContext(ctx, `
		SELECT t.id, t.prompt, t.reply, t.status, t.error, t.latency_ms, t.created_at
		FROM bursar.assistant_tasks t
		JOIN bursar.assistants a ON t.assistant_id = a.id
		WHERE t.assistant_id = $1 AND a.user_id = $2
		ORDER BY t.created_at DESC
		LIMIT 100
	`, assistantID, userID)
	if err != nil {
		logger.WithError(err).WithField("assistant_id", assistantID).Error("Failed to fetch assistant tasks")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list tasks"})
		return
	}
	defer rows.Close()

	type task struct {
		ID        string    `json:"id"`
		Prompt    string    `json:"prompt"`
		Reply     string    `json:"reply"`
		Status    string    `json:"status"`
		Error     string    `json:"error,omitempty"`
		LatencyMs int64     `json:"latency_ms"`
		CreatedAt time.Time `json:"created_at"`
	}
	tasks := []task{}
	for rows.Next() {
		var t task
		if err := rows.Scan(&t.ID, &t.Prompt, &t.Reply, &t.Status, &t.Error, &t.LatencyMs, &t.CreatedAt); err != nil {
			continue
		}
		tasks = append(tasks, t)
	}

	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func recordAssistantTask(status string) {
	if metrics == nil || metrics.AssistantTasks == nil {
		return
	}
	metrics.AssistantTasks.WithLabelValues(status).Inc()
}
