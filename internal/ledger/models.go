package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineType classifies a planning line in the ledger.
type LineType string

const (
	LineTypeBudget   LineType = "Budget"
	LineTypeBillable LineType = "Billable"
	LineTypeBoth     LineType = "Both"
)

type Resource struct {
	ID     string `json:"id"`
	Number string `json:"number"`
	Name   string `json:"name"`
}

type Project struct {
	ID          string `json:"id"`
	Number      string `json:"number"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Task struct {
	ID            string `json:"id"`
	Number        string `json:"number"`
	Name          string `json:"name"`
	ProjectNumber string `json:"projectNumber"`
}

// PlanningLine is one planned-hours record as the ledger returns it. Etag is
// the opaque concurrency token required for updates and deletes.
type PlanningLine struct {
	ID             string          `json:"id"`
	LineNo         int             `json:"lineNo"`
	ProjectNumber  string          `json:"projectNumber"`
	TaskNumber     string          `json:"taskNumber"`
	ResourceNumber string          `json:"resourceNumber"`
	Date           time.Time       `json:"date"`
	Hours          decimal.Decimal `json:"hours"`
	LineType       LineType        `json:"lineType"`
	Etag           string          `json:"etag"`
}

// NewPlanningLine is the payload for creating a planning line.
type NewPlanningLine struct {
	ProjectNumber  string          `json:"projectNumber"`
	TaskNumber     string          `json:"taskNumber"`
	ResourceNumber string          `json:"resourceNumber"`
	Date           string          `json:"date"`
	Hours          decimal.Decimal `json:"hours"`
}

// TimesheetSummary aggregates a resource's timesheet for one week.
type TimesheetSummary struct {
	ResourceNumber string          `json:"resourceNumber"`
	WeekStart      string          `json:"weekStart"`
	OpenHours      decimal.Decimal `json:"openHours"`
	SubmittedHours decimal.Decimal `json:"submittedHours"`
	ApprovedHours  decimal.Decimal `json:"approvedHours"`
}
