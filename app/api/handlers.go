package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoralesv/bankmail/app/database"
	"github.com/jmoralesv/bankmail/app/synth"
	"github.com/jmoralesv/bankmail/app/template"
	"github.com/jmoralesv/bankmail/app/workers"
)

const setupSampleLimit = 5

func NewHandler(accountRepo database.AccountRepository, sourceRepo database.SourceRepository,
	templateRepo database.TemplateRepository, parseRepo database.ParseRepository,
	txRepo database.TransactionRepository, jobRepo database.JobRepository,
	batchRepo database.BatchRepository, generator *template.Generator,
	coordinator *workers.Coordinator) *Handler {
	return &Handler{
		accountRepo:  accountRepo,
		sourceRepo:   sourceRepo,
		templateRepo: templateRepo,
		parseRepo:    parseRepo,
		txRepo:       txRepo,
		jobRepo:      jobRepo,
		batchRepo:    batchRepo,
		generator:    generator,
		coordinator:  coordinator,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if byStatus, err := h.accountRepo.CountByStatus(); err == nil {
		health["accounts"] = byStatus
	}

	queues := map[string]interface{}{}
	for _, queue := range []string{database.QueueImport, database.QueueParse} {
		if depth, err := h.jobRepo.Depth(queue); err == nil {
			queues[queue] = depth
		}
	}
	health["queues"] = queues

	if byStatus, err := h.parseRepo.CountByStatus(); err == nil {
		health["parse_records"] = byStatus
	}

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if count, err := h.txRepo.GetTransactionCount(); err == nil {
		stats["transactions"] = count
	}

	if sources, err := h.sourceRepo.ListActiveSources(); err == nil {
		sourceStats := make([]map[string]interface{}, 0, len(sources))
		for _, s := range sources {
			sourceStats = append(sourceStats, map[string]interface{}{
				"slug":                 s.Slug,
				"name":                 s.Name,
				"emails_processed":     s.EmailsProcessed,
				"transactions_created": s.TransactionsCreated,
			})
		}
		stats["sources"] = sourceStats
	}

	if runs, err := h.batchRepo.GetRecentBatchRuns(10); err == nil {
		stats["recent_batches"] = runs
	}

	c.JSON(http.StatusOK, stats)
}

func (h *Handler) ListAccounts(c *gin.Context) {
	accounts, err := h.accountRepo.ListAccounts()
	if err != nil {
		slog.Error("Database error", "operation", "list_accounts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	list := make([]map[string]interface{}, 0, len(accounts))
	for _, a := range accounts {
		list = append(list, map[string]interface{}{
			"id":                     a.ID,
			"provider":               a.Provider,
			"email_address":          a.EmailAddress,
			"is_active":              a.IsActive,
			"import_status":          a.ImportStatus,
			"last_run_at":            a.LastRunAt,
			"next_run_at":            a.NextRunAt,
			"suspend_until":          a.SuspendUntil,
			"suspend_reason":         a.SuspendReason,
			"consecutive_errors":     a.ConsecutiveErrors,
			"emails_found_today":     a.EmailsFoundToday,
			"emails_processed_today": a.EmailsProcessedToday,
			"last_error":             a.LastError,
		})
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"accounts": list,
		"total":    len(list),
	})
}

func (h *Handler) CreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	existing, err := h.accountRepo.GetAccountByEmail(req.EmailAddress)
	if err != nil {
		slog.Error("Database error", "operation", "get_account_by_email", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Account already exists", "account_id": existing.ID})
		return
	}

	account := &database.Account{
		Provider:            req.Provider,
		EmailAddress:        req.EmailAddress,
		AccessToken:         req.AccessToken,
		RefreshToken:        req.RefreshToken,
		IsActive:            true,
		SyncIntervalMinutes: req.SyncIntervalMinutes,
		LookbackDays:        req.LookbackDays,
		ImportStatus:        database.ImportStatusWaiting,
	}
	if account.Provider == "" {
		account.Provider = "gmail"
	}
	if account.SyncIntervalMinutes <= 0 {
		account.SyncIntervalMinutes = 15
	}

	id, err := h.accountRepo.CreateAccount(account)
	if err != nil {
		slog.Error("Database error", "operation", "create_account", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success":    true,
		"account_id": id,
	})
}

func (h *Handler) ListTransactions(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	transactions, err := h.txRepo.ListTransactions(limit)
	if err != nil {
		slog.Error("Database error", "operation", "list_transactions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"transactions": transactions,
		"total":        len(transactions),
	})
}

func (h *Handler) ListBatchRuns(c *gin.Context) {
	runs, err := h.batchRepo.GetRecentBatchRuns(20)
	if err != nil {
		slog.Error("Database error", "operation", "list_batch_runs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"batches": runs,
		"total":   len(runs),
	})
}

// RunTick triggers one batch tick outside the scheduler cadence.
func (h *Handler) RunTick(c *gin.Context) {
	run, err := h.coordinator.RunTick(c.Request.Context())
	if err != nil {
		slog.Error("Manual batch tick failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Batch tick failed", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"batch":   run,
	})
}

// SetupSource generates extraction templates for a source from its recent
// unparsed records.
func (h *Handler) SetupSource(c *gin.Context) {
	slug := c.Param("slug")
	if slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing source slug parameter"})
		return
	}

	source, err := h.sourceRepo.GetSourceBySlug(slug)
	if err != nil {
		slog.Error("Database error", "operation", "get_source", "slug", slug, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if source == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Source not found"})
		return
	}

	records, err := h.parseRepo.GetRecordsBySource(source.ID, setupSampleLimit)
	if err != nil {
		slog.Error("Database error", "operation", "get_records_by_source", "slug", slug, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if len(records) == 0 {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "No sample emails available",
			"message": "Run an import first so the source has records to learn from",
		})
		return
	}

	samples := make([]synth.SampleEmail, 0, len(records))
	for _, r := range records {
		samples = append(samples, synth.SampleEmail{
			Sender:  r.Sender,
			Subject: r.Subject,
			Body:    synth.StripHTML(r.Body),
		})
	}

	created, err := h.generator.GenerateForSource(c.Request.Context(), source, samples)
	if err != nil {
		slog.Error("Template generation failed", "slug", slug, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Template generation failed",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"source":       slug,
		"template_ids": created,
		"samples_used": len(samples),
	})
}
