package api

import (
	"github.com/jmoralesv/bankmail/app/database"
	"github.com/jmoralesv/bankmail/app/template"
	"github.com/jmoralesv/bankmail/app/workers"
)

type Handler struct {
	accountRepo  database.AccountRepository
	sourceRepo   database.SourceRepository
	templateRepo database.TemplateRepository
	parseRepo    database.ParseRepository
	txRepo       database.TransactionRepository
	jobRepo      database.JobRepository
	batchRepo    database.BatchRepository
	generator    *template.Generator
	coordinator  *workers.Coordinator
}

type createAccountRequest struct {
	Provider            string `json:"provider"`
	EmailAddress        string `json:"email_address" binding:"required"`
	AccessToken         string `json:"access_token" binding:"required"`
	RefreshToken        string `json:"refresh_token"`
	SyncIntervalMinutes int    `json:"sync_interval_minutes"`
	LookbackDays        int    `json:"lookback_days"`
}
