package entity

import (
	"fmt"
	"math"
	"time"
)

type StatsPeriod string

const (
	PeriodDay   StatsPeriod = "day"
	PeriodWeek  StatsPeriod = "week"
	PeriodMonth StatsPeriod = "month"
)

func (p StatsPeriod) Window() time.Duration {
	switch p {
	case PeriodDay:
		return 24 * time.Hour
	case PeriodWeek:
		return 7 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

func ParseStatsPeriod(s string) (StatsPeriod, error) {
	switch p := StatsPeriod(s); p {
	case PeriodDay, PeriodWeek, PeriodMonth:
		return p, nil
	case "":
		return PeriodMonth, nil
	default:
		return "", fmt.Errorf("period must be one of: day, week, month: %w", ErrInvalidData)
	}
}

// StatsRow is one (type, status) group. AvgDeliverySeconds is only meaningful for sent rows.
type StatsRow struct {
	Type               NotificationType `json:"type"`
	Status             Status           `json:"status"`
	Count              int64            `json:"count"`
	AvgDeliverySeconds *float64         `json:"avg_delivery_time_seconds,omitempty"`
}

type StatsSummary struct {
	Period             StatsPeriod                `json:"period"`
	Total              int64                      `json:"total"`
	ByType             map[NotificationType]int64 `json:"byType"`
	ByStatus           map[Status]int64           `json:"byStatus"`
	AvgDeliverySeconds int64                      `json:"avgDeliveryTime"`
	Rows               []StatsRow                 `json:"detailed"`
}

// Summarize folds grouped rows into totals and a count-weighted average delivery latency.
func Summarize(period StatsPeriod, rows []StatsRow) StatsSummary {
	summary := StatsSummary{
		Period:   period,
		ByType:   make(map[NotificationType]int64),
		ByStatus: make(map[Status]int64),
		Rows:     rows,
	}
	if summary.Rows == nil {
		summary.Rows = []StatsRow{}
	}

	var weighted float64
	var delivered int64
	for _, row := range rows {
		summary.Total += row.Count
		summary.ByType[row.Type] += row.Count
		summary.ByStatus[row.Status] += row.Count

		if row.Status == StatusSent && row.AvgDeliverySeconds != nil {
			weighted += *row.AvgDeliverySeconds * float64(row.Count)
			delivered += row.Count
		}
	}
	if delivered > 0 {
		summary.AvgDeliverySeconds = int64(math.Round(weighted / float64(delivered)))
	}
	return summary
}

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

type HistoryFilter struct {
	Limit  uint64
	Offset uint64
	Type   *NotificationType
	Status *Status
}

// Normalize clamps the limit into (0, MaxHistoryLimit].
func (f HistoryFilter) Normalize() HistoryFilter {
	if f.Limit == 0 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Limit > MaxHistoryLimit {
		f.Limit = MaxHistoryLimit
	}
	return f
}

// CleanupPolicy sets how long finished records are kept.
type CleanupPolicy struct {
	SentOlderThan   time.Duration
	FailedOlderThan time.Duration
}

func DefaultCleanupPolicy() CleanupPolicy {
	return CleanupPolicy{
		SentOlderThan:   180 * 24 * time.Hour,
		FailedOlderThan: 30 * 24 * time.Hour,
	}
}

type CleanupResult struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}
