package db

import (
	"fmt"
	"time"
)

// DBStats represents database statistics
type DBStats struct {
	SchemaVersion     int
	ChatCount         int64
	BoundChatCount    int64
	UserMessages      int64
	AssistantMessages int64
	DBSizeBytes       int64
}

// DailyActivity is the number of messages written on one day
type DailyActivity struct {
	Date         time.Time
	MessageCount int64
}

// GetStats returns database statistics
func (db *DB) GetStats() (*DBStats, error) {
	stats := &DBStats{}

	version, err := db.SchemaVersion()
	if err != nil {
		return nil, err
	}
	stats.SchemaVersion = version

	err = db.conn.QueryRow(
		"SELECT COUNT(*), COUNT(NULLIF(thread_id, '')) FROM chats",
	).Scan(&stats.ChatCount, &stats.BoundChatCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count chats: %w", err)
	}

	rows, err := db.conn.Query("SELECT COALESCE(role, ''), COUNT(*) FROM messages GROUP BY role")
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var role string
		var count int64
		if err := rows.Scan(&role, &count); err != nil {
			return nil, fmt.Errorf("failed to scan message count: %w", err)
		}
		if parseRole(role) == RoleAssistant {
			stats.AssistantMessages += count
		} else {
			stats.UserMessages += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}

	// Get database size (page_count * page_size)
	var pageCount, pageSize int64
	if err := db.conn.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("failed to get page count: %w", err)
	}
	if err := db.conn.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("failed to get page size: %w", err)
	}
	stats.DBSizeBytes = pageCount * pageSize

	return stats, nil
}

// GetDailyActivity returns per-day message counts for the last days days
func (db *DB) GetDailyActivity(days int) ([]*DailyActivity, error) {
	rows, err := db.conn.Query(`
		SELECT DATE(created_at) AS day, COUNT(*)
		FROM messages
		WHERE created_at >= datetime('now', '-' || ? || ' days')
		GROUP BY day
		ORDER BY day ASC
	`, days)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily activity: %w", err)
	}
	defer rows.Close()

	var activity []*DailyActivity
	for rows.Next() {
		var day string
		var count int64
		if err := rows.Scan(&day, &count); err != nil {
			return nil, fmt.Errorf("failed to scan daily activity: %w", err)
		}
		date, err := time.Parse("2006-01-02", day)
		if err != nil {
			continue
		}
		activity = append(activity, &DailyActivity{Date: date, MessageCount: count})
	}

	return activity, rows.Err()
}

// Vacuum optimizes the database file
func (db *DB) Vacuum() error {
	if _, err := db.conn.Exec("VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	return nil
}
