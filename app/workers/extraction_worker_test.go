package workers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmoralesv/bankmail/app/database"
	"github.com/jmoralesv/bankmail/app/template"
)

const extractionBody = `Estimado cliente, se ha realizado una compra.
Comercio: FERRETERIA EL CLAVO
Monto: CRC 45,000.00
Fecha: 2026-08-20
Referencia: REF-1234`

func newExtractionWorker(db *database.DB, threshold float64) *ExtractionWorker {
	return NewExtractionWorker(
		database.NewParseRepository(db),
		database.NewSourceRepository(db),
		database.NewTemplateRepository(db),
		database.NewTransactionRepository(db),
		template.NewEngine(0.5),
		threshold,
	)
}

func createPurchaseTemplate(t *testing.T, repo database.TemplateRepository, sourceID int64) int64 {
	t.Helper()

	id, err := repo.CreateTemplate(&database.Template{
		SourceID:         sourceID,
		Name:             "Compra con tarjeta",
		Kind:             "purchase",
		BodyContains:     []string{"compra"},
		AmountRegex:      `Monto:\s*(?P<amount>[A-Z]{3}\s*[\d,\.]+)`,
		DateRegex:        `Fecha:\s*(?P<date>\d{4}-\d{2}-\d{2})`,
		DescriptionRegex: `Comercio:\s*(?P<description>[^\n]+)`,
		ReferenceRegex:   `Referencia:\s*(?P<reference>[A-Z0-9-]+)`,
		Priority:         50,
		IsActive:         true,
	})
	require.NoError(t, err)
	return id
}

func createRecord(t *testing.T, repo database.ParseRepository, accountID int64, sender, body string) int64 {
	t.Helper()

	receivedAt := time.Now().UTC()
	id, err := repo.CreateParseRecord(&database.ParseRecord{
		AccountID:  accountID,
		MessageID:  sender + "-" + receivedAt.Format("150405.000000000"),
		Sender:     sender,
		Subject:    "Notificación de compra",
		Body:       body,
		ReceivedAt: &receivedAt,
	})
	require.NoError(t, err)
	return id
}

func enqueueParse(t *testing.T, db *database.DB, recordID int64) *database.JobEntry {
	t.Helper()

	jobRepo := database.NewJobRepository(db)
	_, err := jobRepo.Enqueue(database.QueueParse, parseRef(recordID),
		encodePayload(parsePayload{RecordID: recordID}), 0, 3)
	require.NoError(t, err)
	return leaseJob(t, jobRepo, database.QueueParse)
}

func TestExtractionWorkerCreatesTransaction(t *testing.T) {
	db := newTestDB(t)
	accountRepo := database.NewAccountRepository(db)
	sourceRepo := database.NewSourceRepository(db)
	templateRepo := database.NewTemplateRepository(db)
	parseRepo := database.NewParseRepository(db)
	txRepo := database.NewTransactionRepository(db)

	accountID := createDueAccount(t, accountRepo, "parse@example.com")
	sourceID := createBankSource(t, sourceRepo)
	templateID := createPurchaseTemplate(t, templateRepo, sourceID)
	recordID := createRecord(t, parseRepo, accountID, "alertas@banco.cr", extractionBody)

	worker := newExtractionWorker(db, 0.3)
	require.NoError(t, worker.Process(context.Background(), enqueueParse(t, db, recordID)))

	transactions, err := txRepo.ListTransactions(10)
	require.NoError(t, err)
	require.Len(t, transactions, 1)
	require.InDelta(t, 45000.00, transactions[0].Amount, 0.001)
	require.Equal(t, "CRC", transactions[0].Currency)
	require.True(t, transactions[0].IsDebit)
	require.Equal(t, "FERRETERIA EL CLAVO", transactions[0].Description)
	require.Equal(t, "REF-1234", transactions[0].Reference)
	require.Equal(t, recordID, transactions[0].ParseRecordID)

	record, err := parseRepo.GetParseRecord(recordID)
	require.NoError(t, err)
	require.Equal(t, database.ParseStatusSuccess, record.ParsingStatus)
	require.NotNil(t, record.SourceID)
	require.Equal(t, sourceID, *record.SourceID)
	require.NotNil(t, record.TemplateID)
	require.Equal(t, templateID, *record.TemplateID)
	require.Greater(t, record.Confidence, 0.3)

	tmpl, err := templateRepo.GetTemplate(templateID)
	require.NoError(t, err)
	require.Equal(t, 1, tmpl.Uses)
	require.Equal(t, 1, tmpl.Successes)

	source, err := sourceRepo.GetSourceBySlug("banco-central")
	require.NoError(t, err)
	require.Equal(t, 1, source.EmailsProcessed)
	require.Equal(t, 1, source.TransactionsCreated)
}

func TestExtractionWorkerUnknownSender(t *testing.T) {
	db := newTestDB(t)
	accountRepo := database.NewAccountRepository(db)
	parseRepo := database.NewParseRepository(db)

	accountID := createDueAccount(t, accountRepo, "parse@example.com")
	recordID := createRecord(t, parseRepo, accountID, "spam@otro.com", "Oferta especial solo hoy")

	worker := newExtractionWorker(db, 0.3)
	require.NoError(t, worker.Process(context.Background(), enqueueParse(t, db, recordID)))

	record, err := parseRepo.GetParseRecord(recordID)
	require.NoError(t, err)
	require.Equal(t, database.ParseStatusFailed, record.ParsingStatus)
	require.Equal(t, database.FailureNoSourceIdentified, record.FailureReason)
	require.Nil(t, record.SourceID)
}

func TestExtractionWorkerSourceWithoutTemplates(t *testing.T) {
	db := newTestDB(t)
	accountRepo := database.NewAccountRepository(db)
	sourceRepo := database.NewSourceRepository(db)
	parseRepo := database.NewParseRepository(db)

	accountID := createDueAccount(t, accountRepo, "parse@example.com")
	sourceID := createBankSource(t, sourceRepo)
	recordID := createRecord(t, parseRepo, accountID, "alertas@banco.cr", extractionBody)

	worker := newExtractionWorker(db, 0.3)
	require.NoError(t, worker.Process(context.Background(), enqueueParse(t, db, recordID)))

	record, err := parseRepo.GetParseRecord(recordID)
	require.NoError(t, err)
	require.Equal(t, database.ParseStatusFailed, record.ParsingStatus)
	require.Equal(t, database.FailureNoTemplateConfigured, record.FailureReason)
	require.NotNil(t, record.SourceID)
	require.Equal(t, sourceID, *record.SourceID)
}

func TestExtractionWorkerLowConfidence(t *testing.T) {
	db := newTestDB(t)
	accountRepo := database.NewAccountRepository(db)
	sourceRepo := database.NewSourceRepository(db)
	templateRepo := database.NewTemplateRepository(db)
	parseRepo := database.NewParseRepository(db)
	txRepo := database.NewTransactionRepository(db)

	accountID := createDueAccount(t, accountRepo, "parse@example.com")
	sourceID := createBankSource(t, sourceRepo)
	templateID := createPurchaseTemplate(t, templateRepo, sourceID)

	// Amount extracts but everything else misses: confidence 0.9/2.9.
	body := "Compra realizada. Monto: CRC 9,999.00"
	recordID := createRecord(t, parseRepo, accountID, "alertas@banco.cr", body)

	worker := newExtractionWorker(db, 0.5)
	require.NoError(t, worker.Process(context.Background(), enqueueParse(t, db, recordID)))

	record, err := parseRepo.GetParseRecord(recordID)
	require.NoError(t, err)
	require.Equal(t, database.ParseStatusFailed, record.ParsingStatus)
	require.Equal(t, database.FailureLowConfidence, record.FailureReason)

	transactions, err := txRepo.ListTransactions(10)
	require.NoError(t, err)
	require.Empty(t, transactions)

	// Failed attempts still update template stats.
	tmpl, err := templateRepo.GetTemplate(templateID)
	require.NoError(t, err)
	require.Equal(t, 1, tmpl.Uses)
	require.Equal(t, 1, tmpl.Failures)
}

func TestExtractionWorkerSkipsExistingTransaction(t *testing.T) {
	db := newTestDB(t)
	accountRepo := database.NewAccountRepository(db)
	sourceRepo := database.NewSourceRepository(db)
	templateRepo := database.NewTemplateRepository(db)
	parseRepo := database.NewParseRepository(db)
	txRepo := database.NewTransactionRepository(db)

	accountID := createDueAccount(t, accountRepo, "parse@example.com")
	sourceID := createBankSource(t, sourceRepo)
	createPurchaseTemplate(t, templateRepo, sourceID)
	recordID := createRecord(t, parseRepo, accountID, "alertas@banco.cr", extractionBody)

	_, err := txRepo.CreateTransaction(&database.Transaction{
		ParseRecordID: recordID,
		Amount:        45000.00,
		Currency:      "CRC",
		IsDebit:       true,
		Date:          time.Now().UTC(),
	})
	require.NoError(t, err)

	worker := newExtractionWorker(db, 0.3)
	require.NoError(t, worker.Process(context.Background(), enqueueParse(t, db, recordID)))

	transactions, err := txRepo.ListTransactions(10)
	require.NoError(t, err)
	require.Len(t, transactions, 1)

	// The record still settles so it is never re-enqueued.
	record, err := parseRepo.GetParseRecord(recordID)
	require.NoError(t, err)
	require.Equal(t, database.ParseStatusSuccess, record.ParsingStatus)
}
