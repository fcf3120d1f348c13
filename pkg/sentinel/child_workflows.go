package sentinel

import (
	"github.com/sentinelwatch/sentinel/pkg/sentinel/models"
)

// CreateChildWorkflowRequest builds a child workflow spawn request. Append the
// result to the ChildWorkflows list of a returned NextState and the engine
// creates the child, keyed by externalID, before the parent advances.
func CreateChildWorkflowRequest(
	workflowType string,
	externalID string,
	businessKey string,
	stateVars map[string]string,
) models.ChildWorkflowRequest {
	return models.ChildWorkflowRequest{
		WorkflowType:   workflowType,
		ExternalID:     externalID,
		BusinessKey:    businessKey,
		StateVariables: stateVars,
	}
}
