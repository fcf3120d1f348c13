package models

// Review decisions an analyst can make on an article awaiting review.
const (
	ReviewDecisionApprove = "approve"
	ReviewDecisionReject  = "reject"
)

type ReviewDecisionRequest struct {
	Decision string `json:"decision"`
	Note     string `json:"note,omitempty"`
}

type ReviewDecisionResponse struct {
	OK       bool   `json:"ok"`
	Decision string `json:"decision"`
	// WorkflowState is the triage state the workflow was moved to.
	WorkflowState string `json:"workflowState"`
}
