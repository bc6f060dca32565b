package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Batch is one executed reconciliation plan as recorded locally.
type Batch struct {
	ID           int
	ProjectNo    string
	TaskNo       string
	ResourceNo   string
	WeekStart    string
	CreatedCount int
	UpdatedCount int
	DeletedCount int
	FailedCount  int
	ExecutedAt   time.Time
}

// BatchItem is one operation inside a recorded batch.
type BatchItem struct {
	ID           int
	BatchID      int
	Operation    string
	Date         string
	RemoteLineID string
	Status       string
	Error        string
}

// InsertBatch records a batch with its items and returns the batch id.
func (db *DB) InsertBatch(b *Batch, items []BatchItem) (int64, error) {
	result, err := db.Exec(
		`INSERT INTO batches (project_no, task_no, resource_no, week_start, created_count, updated_count, deleted_count, failed_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ProjectNo, b.TaskNo, b.ResourceNo, b.WeekStart,
		b.CreatedCount, b.UpdatedCount, b.DeletedCount, b.FailedCount,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting batch: %w", err)
	}

	batchID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading batch id: %w", err)
	}

	for _, item := range items {
		_, err := db.Exec(
			`INSERT INTO batch_items (batch_id, operation, date, remote_line_id, status, error)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			batchID, item.Operation, item.Date, item.RemoteLineID, item.Status, item.Error,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting batch item: %w", err)
		}
	}

	return batchID, nil
}

// RecentBatches returns the most recent batches, newest first.
func (db *DB) RecentBatches(limit int) ([]Batch, error) {
	rows, err := db.Query(
		`SELECT id, project_no, task_no, resource_no, week_start, created_count, updated_count, deleted_count, failed_count, executed_at
		 FROM batches
		 ORDER BY executed_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying batches: %w", err)
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var b Batch
		var executedStr string
		if err := rows.Scan(
			&b.ID, &b.ProjectNo, &b.TaskNo, &b.ResourceNo, &b.WeekStart,
			&b.CreatedCount, &b.UpdatedCount, &b.DeletedCount, &b.FailedCount, &executedStr,
		); err != nil {
			return nil, fmt.Errorf("scanning batch: %w", err)
		}
		if t, err := time.Parse("2006-01-02 15:04:05", executedStr); err == nil {
			b.ExecutedAt = t
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// BatchItems returns the items of one batch in insertion order.
func (db *DB) BatchItems(batchID int) ([]BatchItem, error) {
	rows, err := db.Query(
		`SELECT id, batch_id, operation, date, remote_line_id, status, error
		 FROM batch_items
		 WHERE batch_id = ?
		 ORDER BY id ASC`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying batch items: %w", err)
	}
	defer rows.Close()

	var items []BatchItem
	for rows.Next() {
		var item BatchItem
		var date, lineID, errText sql.NullString
		if err := rows.Scan(&item.ID, &item.BatchID, &item.Operation, &date, &lineID, &item.Status, &errText); err != nil {
			return nil, fmt.Errorf("scanning batch item: %w", err)
		}
		item.Date = date.String
		item.RemoteLineID = lineID.String
		item.Error = errText.String
		items = append(items, item)
	}
	return items, rows.Err()
}
