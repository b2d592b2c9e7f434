package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/hitl-workflow/internal/application/port"
	"github.com/garyjia/hitl-workflow/internal/domain/workflow"
)

// SheetName is the worksheet holding the workflow rows
const SheetName = "Workflows"

var headers = []string{
	"Workflow ID", "Type", "State", "Employee", "Amount (INR)", "Reason",
	"Recipient", "Channel", "Decision", "Notes", "Deadline", "Submitted At",
	"Created At", "Updated At", "Events",
}

// ExcelExporter writes workflows as an .xlsx report, one row per workflow
type ExcelExporter struct {
	logger *zap.Logger
}

// NewExcelExporter creates a new Excel exporter
func NewExcelExporter(logger *zap.Logger) *ExcelExporter {
	return &ExcelExporter{logger: logger}
}

// Export implements port.WorkflowExporter
func (e *ExcelExporter) Export(ctx context.Context, w io.Writer, workflows []*workflow.Workflow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return fmt.Errorf("failed to resolve header cell: %w", err)
		}
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		lastHeader, _ := excelize.CoordinatesToCellName(len(headers), 1)
		_ = f.SetCellStyle(SheetName, "A1", lastHeader, bold)
	}

	for i, wf := range workflows {
		if err := ctx.Err(); err != nil {
			return err
		}
		row := i + 2
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(SheetName, cell, rowValues(wf)); err != nil {
			return fmt.Errorf("failed to write row for workflow %s: %w", wf.ID, err)
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		e.logger.Warn("Failed to freeze header row", zap.Error(err))
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Workflows exported", zap.Int("count", len(workflows)))
	return nil
}

func rowValues(wf *workflow.Workflow) *[]interface{} {
	hi := wf.Context.HumanInteraction

	notes := ""
	if hi.Response.Comments != nil {
		notes = *hi.Response.Comments
	}
	submitted := ""
	if hi.Response.SubmittedAt != nil {
		submitted = formatTime(*hi.Response.SubmittedAt)
	}

	values := []interface{}{
		wf.ID,
		wf.Context.Metadata.WorkflowType,
		string(wf.CurrentState),
		wf.Context.UIString("employeeName"),
		wf.Context.UIFloat("amount"),
		wf.Context.UIString("reason"),
		hi.Recipient.UserID,
		string(hi.Recipient.Channel),
		string(hi.Response.Decision),
		notes,
		formatTime(hi.Deadline),
		submitted,
		formatTime(wf.CreatedAt),
		formatTime(wf.UpdatedAt),
		len(wf.Context.EventLog),
	}
	return &values
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

var _ port.WorkflowExporter = (*ExcelExporter)(nil)
