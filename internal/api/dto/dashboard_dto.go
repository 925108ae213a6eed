package dto

import (
	"time"

	"github.com/spec-kit/helpdesk/internal/domain"
	"github.com/spec-kit/helpdesk/internal/service"
)

// SLAAlertResponse is one entry of the SLA alert feed.
type SLAAlertResponse struct {
	Kind        string     `json:"kind"`
	Critical    bool       `json:"critical"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	TicketID    string     `json:"ticket_id"`
	TicketKey   string     `json:"ticket_key"`
	DueAt       *time.Time `json:"due_at"`
}

// NewSLAAlerts maps the alert feed.
func NewSLAAlerts(alerts []service.SLAAlert) []SLAAlertResponse {
	out := make([]SLAAlertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, SLAAlertResponse(a))
	}
	return out
}

// EngineerLoadResponse is one row of the support team view.
type EngineerLoadResponse struct {
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Initials    string `json:"initials"`
	TicketCount int    `json:"ticket_count"`
	Workload    int    `json:"workload"`
}

// DashboardResponse aggregates ticket counts for the caller.
type DashboardResponse struct {
	Role         domain.Role                 `json:"role"`
	Total        int                         `json:"total"`
	StatusCounts map[domain.TicketStatus]int `json:"status_counts"`
	Unassigned   *int                        `json:"unassigned,omitempty"`
	Team         []EngineerLoadResponse      `json:"team,omitempty"`
}

// NewDashboardResponse maps a dashboard summary.
func NewDashboardResponse(s *service.DashboardSummary) DashboardResponse {
	resp := DashboardResponse{
		Role:         s.Role,
		Total:        s.Total,
		StatusCounts: s.StatusCounts,
		Unassigned:   s.Unassigned,
	}
	for _, load := range s.Team {
		resp.Team = append(resp.Team, EngineerLoadResponse(load))
	}
	return resp
}
