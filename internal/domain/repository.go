package domain

import "context"

// GenerationRepository persists generation job records.
type GenerationRepository interface {
	Get(ctx context.Context, id string) (*Generation, error)
	MarkProgress(ctx context.Context, id, progress string, attempts int) error
	SetDebit(ctx context.Context, id, transactionID string) error
	Complete(ctx context.Context, id, imageKey string, attempts int, feedback []EvaluationFeedback) error
	Fail(ctx context.Context, id string, status GenerationStatus, reason string, attempts int, feedback []EvaluationFeedback) error
	Requeue(ctx context.Context, id string) error
	// Heartbeat marks a running generation as still held by a worker.
	Heartbeat(ctx context.Context, id string) error
	RequestCancel(ctx context.Context, id string) (bool, error)
	CancelRequested(ctx context.Context, id string) (bool, error)
	PendingRefunds(ctx context.Context, limit int) ([]Generation, error)
}

// SelfieRepository persists selfie classification and preprocessing results.
type SelfieRepository interface {
	ListByKeys(ctx context.Context, keys []string) ([]Selfie, error)
	SaveClassification(ctx context.Context, key string, c Classification) error
	SaveProcessedKey(ctx context.Context, key, processedKey string) error
}
