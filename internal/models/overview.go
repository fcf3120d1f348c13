package models

// ArticleStatusCount is one row of the article side of the overview.
type ArticleStatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// SeverityCount is one row of the published-by-severity breakdown.
type SeverityCount struct {
	Severity string `json:"severity"`
	Count    int    `json:"count"`
}

// OverviewResponse aggregates engine and article counts for the dashboard endpoint.
type OverviewResponse struct {
	Workflows          []WorkflowTypeCount  `json:"workflows"`
	Articles           []ArticleStatusCount `json:"articles"`
	Published          []SeverityCount      `json:"published"`
	DeadLettersPending int                  `json:"deadLettersPending"`
}

// WorkflowTypeCount mirrors the repository's grouped workflow counts.
type WorkflowTypeCount struct {
	ExecutorGroup   string `json:"executorGroup"`
	WorkflowType    string `json:"workflowType"`
	NewCount        int    `json:"new"`
	ScheduledCount  int    `json:"scheduled"`
	ExecutingCount  int    `json:"executing"`
	FinishedCount   int    `json:"finished"`
	InProgressCount int    `json:"inProgress"`
	FailedCount     int    `json:"failed"`
}
