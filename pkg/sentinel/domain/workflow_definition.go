package domain

import "time"

// WorkflowDefinition is the stored description of a registered workflow
// type, including its rendered mermaid flow chart.
type WorkflowDefinition struct {
	Name        string
	Description string
	Created     time.Time
	Updated     time.Time
	FlowChart   string
}
