// nolint: revive,staticcheck
// swagger:meta
package httpt

import (
	"encoding/json"
	"fmt"

	"github.com/Peakviker/RefSeller/internal/entity"
)

// UserID принимает идентификатор и строкой, и числом: фронтенд отдает Telegram id как number.
type UserID string

func (u *UserID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*u = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("userId must be a string or a number: %w", err)
	}
	*u = UserID(n.String())
	return nil
}

// swagger:model UpdatePreferencesRequest
type UpdatePreferencesRequest struct {
	UserID UserID `json:"userId" binding:"required" example:"123456789"`
	entity.PreferencesPatch
}

// swagger:model PreferencesResponse
type PreferencesResponse struct {
	Success     bool               `json:"success"     example:"true"`
	Preferences entity.Preferences `json:"preferences"`
}

// swagger:model Pagination
type Pagination struct {
	Limit  uint64 `json:"limit"  example:"20"`
	Offset uint64 `json:"offset" example:"0"`
	Count  int    `json:"count"  example:"3"`
}

// swagger:model HistoryResponse
type HistoryResponse struct {
	Success    bool                  `json:"success"    example:"true"`
	History    []entity.Notification `json:"history"`
	Pagination Pagination            `json:"pagination"`
}

// swagger:model StatsSummary
type StatsSummary struct {
	Total           int64                             `json:"total"           example:"12"`
	ByType          map[entity.NotificationType]int64 `json:"byType"`
	ByStatus        map[entity.Status]int64           `json:"byStatus"`
	AvgDeliveryTime int64                             `json:"avgDeliveryTime" example:"2"`
}

// swagger:model StatsResponse
type StatsResponse struct {
	Success  bool               `json:"success"  example:"true"`
	Period   entity.StatsPeriod `json:"period"   example:"month"`
	Summary  StatsSummary       `json:"summary"`
	Detailed []entity.StatsRow  `json:"detailed"`
}

// swagger:model ErrorResponse
type ErrorResponse struct {
	Success bool   `json:"success"           example:"false"`
	Error   string `json:"error"             example:"Invalid input data"`
	Code    string `json:"code,omitempty"    example:"invalid_data"`
	Details string `json:"details,omitempty" example:"userId is required"`
}

func newStatsResponse(s entity.StatsSummary) StatsResponse {
	detailed := s.Rows
	if detailed == nil {
		detailed = []entity.StatsRow{}
	}
	return StatsResponse{
		Success: true,
		Period:  s.Period,
		Summary: StatsSummary{
			Total:           s.Total,
			ByType:          s.ByType,
			ByStatus:        s.ByStatus,
			AvgDeliveryTime: s.AvgDeliverySeconds,
		},
		Detailed: detailed,
	}
}
