package models

const (
	TaskPending    = "pending"
	TaskRetry      = "retry"
	TaskProcessing = "processing"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

const (
	// DefaultBatchSize количество записей, обрабатываемых за одну запись в хранилище
	DefaultBatchSize = 15

	// DefaultEmptyRangesCount пока ни на что не влияет
	DefaultEmptyRangesCount = 2

	// DefaultTransportBatchSize размер страницы при чтении из удаленной системы
	DefaultTransportBatchSize = 100

	// MaxReportedErrors предел ошибок, попадающих в результат синхронизации
	MaxReportedErrors = 100

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 128
)
