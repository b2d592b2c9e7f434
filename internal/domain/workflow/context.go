package workflow

import "time"

// ContextSchemaVersion is the version written into every new workflow context
const ContextSchemaVersion = 1

// InitiatorType tells whether a workflow was started by an agent or a person
type InitiatorType string

const (
	InitiatorAIAgent InitiatorType = "AI_AGENT"
	InitiatorHuman   InitiatorType = "HUMAN"
)

// Channel is the medium used to reach the human recipient
type Channel string

const (
	ChannelWebPortal Channel = "web_portal"
	ChannelEmail     Channel = "email"
	ChannelSMS       Channel = "sms"
	ChannelSlack     Channel = "slack"
)

// Decision is the human verdict on a workflow
type Decision string

const (
	DecisionPending  Decision = "PENDING"
	DecisionApproved Decision = "APPROVED"
	DecisionRejected Decision = "REJECTED"
)

// IsFinal returns true once a human verdict is recorded
func (d Decision) IsFinal() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// Context is the structured payload persisted alongside the workflow state
type Context struct {
	SchemaVersion    int              `json:"schemaVersion" validate:"required,gte=1"`
	Metadata         Metadata         `json:"metadata" validate:"required"`
	Payload          Payload          `json:"payload"`
	HumanInteraction HumanInteraction `json:"humanInteraction" validate:"required"`
	EventLog         []LogEntry       `json:"eventLog" validate:"dive"`
	// PendingEffect names the last applied event whose side effect has not completed yet
	PendingEffect EventType `json:"pendingEffect,omitempty"`
}

// Metadata describes what kind of workflow this is and who started it
type Metadata struct {
	WorkflowType string    `json:"workflowType" validate:"required"`
	Initiator    Initiator `json:"initiator" validate:"required"`
}

// Initiator identifies the agent or user that created the workflow
type Initiator struct {
	Type    InitiatorType `json:"type" validate:"required,oneof=AI_AGENT HUMAN"`
	AgentID string        `json:"agentId" validate:"required"`
}

// Payload carries the form the human reviews: a schema plus current values
type Payload struct {
	UISchema map[string]interface{} `json:"uiSchema"`
	UIData   map[string]interface{} `json:"uiData"`
}

// HumanInteraction holds the recipient, the deadline and the recorded response
type HumanInteraction struct {
	Recipient Recipient `json:"recipient" validate:"required"`
	Deadline  time.Time `json:"deadline" validate:"required"`
	Response  Response  `json:"response" validate:"required"`
}

// Recipient is the person asked to decide
type Recipient struct {
	UserID  string  `json:"userId" validate:"required"`
	Channel Channel `json:"channel" validate:"required,oneof=web_portal email sms slack"`
}

// Response is the human answer; Comments and SubmittedAt stay nil until set
type Response struct {
	Decision    Decision   `json:"decision" validate:"required,oneof=PENDING APPROVED REJECTED"`
	Comments    *string    `json:"comments"`
	SubmittedAt *time.Time `json:"submittedAt"`
}

// LogEntry is one append-only audit record
type LogEntry struct {
	Timestamp time.Time  `json:"timestamp" validate:"required"`
	EventType EventType  `json:"eventType" validate:"required"`
	State     State      `json:"state,omitempty"`
	Details   *LogDetail `json:"details,omitempty"`
}

// LogDetail records who caused an entry and the decision it left behind
type LogDetail struct {
	InitiatedBy string   `json:"initiatedBy,omitempty"`
	Decision    Decision `json:"decision,omitempty"`
	Comments    *string  `json:"comments,omitempty"`
}

// HasEvent returns true if the event log contains an entry of the given type
func (c *Context) HasEvent(t EventType) bool {
	for _, e := range c.EventLog {
		if e.EventType == t {
			return true
		}
	}
	return false
}

// UIString returns a string field from the payload data
func (c *Context) UIString(key string) string {
	if v, ok := c.Payload.UIData[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// UIFloat returns a numeric field from the payload data
func (c *Context) UIFloat(key string) float64 {
	if v, ok := c.Payload.UIData[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case float32:
			return float64(n)
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
	}
	return 0
}

// clone returns a deep copy so engine mutations never leak into a caller's value
func (c Context) clone() Context {
	out := c
	out.Payload.UISchema = cloneMap(c.Payload.UISchema)
	out.Payload.UIData = cloneMap(c.Payload.UIData)
	if c.HumanInteraction.Response.Comments != nil {
		s := *c.HumanInteraction.Response.Comments
		out.HumanInteraction.Response.Comments = &s
	}
	if c.HumanInteraction.Response.SubmittedAt != nil {
		t := *c.HumanInteraction.Response.SubmittedAt
		out.HumanInteraction.Response.SubmittedAt = &t
	}
	out.EventLog = append([]LogEntry(nil), c.EventLog...)
	return out
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}
