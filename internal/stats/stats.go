package stats

import (
	"encoding/json"
	"fmt"
	"time"

	"waifu-chat/internal/storage"
)

// DailyStats aggregates one day of chat activity from the
// interaction audit log.
type DailyStats struct {
	Date          string               `json:"date"`
	TotalMessages int                  `json:"total_messages"`
	UniqueUsers   int                  `json:"unique_users"`
	FallbackCount int                  `json:"fallback_count"`
	ByProvider    map[string]int       `json:"by_provider"`
	UserStats     map[string]UserStats `json:"user_stats"`
}

type UserStats struct {
	UserID    string `json:"user_id"`
	Messages  int    `json:"messages"`
	Fallbacks int    `json:"fallbacks"`
}

// AnalyzeDailyLogs aggregates the events that fall on targetDate's day.
func AnalyzeDailyLogs(events []storage.Event, targetDate time.Time) *DailyStats {
	startOfDay := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, targetDate.Location())
	endOfDay := startOfDay.Add(24 * time.Hour)

	stats := &DailyStats{
		Date:       startOfDay.Format("2006-01-02"),
		ByProvider: make(map[string]int),
		UserStats:  make(map[string]UserStats),
	}

	uniqueUsers := make(map[string]bool)
	for _, event := range events {
		if event.Timestamp.Before(startOfDay) || !event.Timestamp.Before(endOfDay) {
			continue
		}
		if event.UserMessage == "" {
			continue
		}

		stats.TotalMessages++
		uniqueUsers[event.UserID] = true
		if event.Provider != "" {
			stats.ByProvider[event.Provider]++
		}
		if event.FallbackUsed {
			stats.FallbackCount++
		}

		us := stats.UserStats[event.UserID]
		us.UserID = event.UserID
		us.Messages++
		if event.FallbackUsed {
			us.Fallbacks++
		}
		stats.UserStats[event.UserID] = us
	}

	stats.UniqueUsers = len(uniqueUsers)
	return stats
}

// FormatReport renders the stats as indented JSON for the daily log line.
func FormatReport(stats *DailyStats) (string, error) {
	b, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format stats report: %w", err)
	}
	return string(b), nil
}
