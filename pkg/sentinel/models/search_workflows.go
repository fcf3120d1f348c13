package models

import "github.com/sentinelwatch/sentinel/pkg/sentinel/domain"

// SearchWorkflowRequest filters the workflow search endpoint. The identity
// fields ID, ExternalID and BusinessKey are OR-ed together; every other filter
// narrows the result with AND. Zero values are ignored.
type SearchWorkflowRequest struct {
	ID            int64  `json:"id"`
	ExternalID    string `json:"externalId"`
	ExecutorGroup string `json:"executorGroup"`
	WorkflowType  string `json:"workflowType"`
	BusinessKey   string `json:"businessKey"`
	State         string `json:"state"`
	Status        string `json:"status"`
	Limit         int64  `json:"limit"`
	Offset        int64  `json:"offset"`
}

// SearchWorkflowResponse carries one page of search results.
type SearchWorkflowResponse struct {
	Results   int               `json:"results"`
	Workflows []domain.Workflow `json:"workflows"`
	Offset    int64             `json:"offset"`
}
