package amqp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"orti/internal/core"
)

const (
	SourceXLSX   = "xlsx"
	SourceSheets = "sheets"
)

// ImportJobMessage asks a worker to import one workbook or spreadsheet into
// a company's ledger.
type ImportJobMessage struct {
	JobID         string   `json:"job_id" validate:"required"`
	CompanyName   string   `json:"company_name" validate:"required"`
	Source        string   `json:"source" validate:"oneof=xlsx sheets"`
	Path          string   `json:"path,omitempty" validate:"required_if=Source xlsx"`
	SpreadsheetID string   `json:"spreadsheet_id,omitempty"`
	Ranges        []string `json:"ranges,omitempty"`
	Sheets        []string `json:"sheets,omitempty"`
	// Year of the first month column. Zero takes it from each sheet name.
	Year int `json:"year,omitempty" validate:"omitempty,min=1900,max=9999"`
	// CutoffYear and CutoffMonth set the first projected month.
	CutoffYear  int `json:"cutoff_year,omitempty" validate:"omitempty,min=1900,max=9999"`
	CutoffMonth int `json:"cutoff_month,omitempty" validate:"omitempty,min=1,max=12"`
	// ExplicitProjection marks every imported value as projection or actual
	// and overrides the cutoff.
	ExplicitProjection *bool     `json:"explicit_projection,omitempty"`
	Timestamp          time.Time `json:"timestamp"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func NewImportJobMessage(companyName, source string) *ImportJobMessage {
	return &ImportJobMessage{
		JobID:       uuid.NewString(),
		CompanyName: strings.TrimSpace(companyName),
		Source:      source,
		Timestamp:   time.Now().UTC(),
	}
}

// Validate checks the message fields. Failures wrap core.ErrInvalidValue.
func (m *ImportJobMessage) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidValue, err)
	}
	if (m.CutoffYear == 0) != (m.CutoffMonth == 0) {
		return fmt.Errorf("%w: cutoff needs both year and month", core.ErrInvalidValue)
	}
	return nil
}

// Cutoff returns the first projected period, if the message sets one.
func (m *ImportJobMessage) Cutoff() (core.Period, bool) {
	if m.CutoffYear == 0 {
		return core.Period{}, false
	}
	return core.Period{Year: m.CutoffYear, Month: m.CutoffMonth}, true
}

func (m *ImportJobMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ImportJobMessageFromJSON(data []byte) (*ImportJobMessage, error) {
	var msg ImportJobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
