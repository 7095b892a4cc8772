package fileGate

import "context"

// LoginAttempts lists ledger entries matching query, newest first.
func (e *Engine) LoginAttempts(ctx context.Context, query LoginAttemptQuery) ([]LoginAttempt, error) {
	attempts, err := e.repo.ListLoginAttempts(ctx, query)
	if err != nil {
		return nil, persistenceError(err)
	}
	return attempts, nil
}

// DownloadHistory lists download records, newest first.
func (e *Engine) DownloadHistory(ctx context.Context, query DownloadRecordQuery) ([]DownloadRecord, error) {
	records, err := e.repo.ListDownloadRecords(ctx, query)
	if err != nil {
		return nil, persistenceError(err)
	}
	return records, nil
}
