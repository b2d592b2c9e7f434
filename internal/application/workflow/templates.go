package workflow

// ExpenseApprovalSchema returns the form shown to the approver of an expense.
// The submitted fields are read-only; the approver fills decision and notes.
func ExpenseApprovalSchema() map[string]interface{} {
	return map[string]interface{}{
		"title": "Expense Report Approval",
		"type":  "object",
		"properties": map[string]interface{}{
			"employeeName": map[string]interface{}{
				"type":     "string",
				"title":    "Employee Name",
				"readOnly": true,
			},
			"amount": map[string]interface{}{
				"type":     "number",
				"title":    "Amount (INR)",
				"readOnly": true,
			},
			"reason": map[string]interface{}{
				"type":     "string",
				"title":    "Reason",
				"readOnly": true,
			},
			"decision": map[string]interface{}{
				"type":  "string",
				"title": "Decision",
				"enum":  []interface{}{"APPROVE", "DENY"},
			},
			"manager_notes": map[string]interface{}{
				"type":   "string",
				"title":  "Notes (Required if Denied)",
				"format": "textarea",
			},
		},
		"required": []interface{}{"decision"},
	}
}

// ExpenseApprovalData returns the values the approver reviews
func ExpenseApprovalData(employeeName string, amountINR float64, reason string) map[string]interface{} {
	return map[string]interface{}{
		"employeeName": employeeName,
		"amount":       amountINR,
		"reason":       reason,
	}
}
