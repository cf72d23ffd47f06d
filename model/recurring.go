package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Schedule is the cadence of a recurring template.
type Schedule string

const (
	ScheduleWeekly   Schedule = "weekly"
	ScheduleBiweekly Schedule = "biweekly"
	ScheduleMonthly  Schedule = "monthly"
)

var SupportedSchedules = []interface{}{ScheduleWeekly, ScheduleBiweekly, ScheduleMonthly}

// RecurringTemplate is a standing instruction that materializes payments.
type RecurringTemplate struct {
	TemplateID    string          `json:"template_id"`
	OrgID         string          `json:"org_id"`
	PayeeID       string          `json:"payee_id"`
	Amount        decimal.Decimal `json:"amount"`
	Token         string          `json:"token"`
	Schedule      Schedule        `json:"schedule"`
	IsActive      bool            `json:"is_active"`
	AutoExecute   bool            `json:"auto_execute"`
	AnchorDay     int             `json:"anchor_day"`
	NextRunDate   time.Time       `json:"next_run_date"`
	LastRunDate   *time.Time      `json:"last_run_date,omitempty"`
	LastPeriodKey *string         `json:"last_period_key,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PeriodKey identifies the due period a materialized payment belongs to.
func (t *RecurringTemplate) PeriodKey() string {
	return t.NextRunDate.UTC().Format("2006-01-02")
}

// TemplateUpdate holds the mutable fields of a template. Nil fields are left unchanged.
type TemplateUpdate struct {
	Amount      *decimal.Decimal
	Schedule    *Schedule
	IsActive    *bool
	AutoExecute *bool
}

// MaterializeResult summarizes one materialization run.
type MaterializeResult struct {
	Created int      `json:"created"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors"`
}

// DueExecutionResult summarizes the optional execution step after materialization.
type DueExecutionResult struct {
	Executed int      `json:"executed"`
	Pending  int      `json:"pending"`
	Errors   []string `json:"errors"`
}

// CronResult is returned from a cron-triggered recurring run.
type CronResult struct {
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Created   int       `json:"created"`
	Skipped   int       `json:"skipped"`
	Executed  int       `json:"executed"`
	Pending   int       `json:"pending"`
	Errors    []string  `json:"errors"`
}
