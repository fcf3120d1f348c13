package controllers

import (
	"net/http"

	"github.com/sentinelwatch/sentinel/internal/domain"
)

// RegisterRoutes wires the HTTP routes for this controller. Login is the only
// route on the controller that does not require a token.
func (c *AuthController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/login", c.handleLogin)
}

func (c *WorkflowsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/workflows/{id}", c.RequireGroup(domain.GroupAnalysts, c.handleGetWorkflowById))
	mux.HandleFunc("GET /api/workflows/byExternalId/{externalId}", c.RequireGroup(domain.GroupAnalysts, c.handleGetWorkflowByExternalId))
	mux.HandleFunc("POST /api/workflows/search", c.RequireGroup(domain.GroupAnalysts, c.handleSearchWorkflows))
	mux.HandleFunc("GET /api/definitions", c.RequireGroup(domain.GroupAnalysts, c.handleListWorkflowDefinitions))
	mux.HandleFunc("GET /api/definitions/{name}", c.RequireGroup(domain.GroupAnalysts, c.handleGetWorkflowDefinitionByName))

	mux.HandleFunc("POST /api/workflows", c.RequireGroup(domain.GroupAdmins, c.handleCreateWorkflow))
	mux.HandleFunc("POST /api/createAndWait", c.RequireGroup(domain.GroupAdmins, c.handleCreateAndWaitWorkflow))
	mux.HandleFunc("POST /api/workflows/{id}/state", c.RequireGroup(domain.GroupAdmins, c.handleUpdateWorkflowState))
	mux.HandleFunc("POST /api/workflows/{id}/stateAndWait", c.RequireGroup(domain.GroupAdmins, c.handleUpdateWorkflowStateAndWait))
	mux.HandleFunc("POST /api/workflows/{id}/statevars", c.RequireGroup(domain.GroupAdmins, c.handleUpdateStateVar))
}

func (c *ActionsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/actions/byWorkflowId/{id}", c.RequireGroup(domain.GroupAnalysts, c.handleGetActionsForWorkflow))
}

func (c *ExecutorsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/executors", c.RequireGroup(domain.GroupAnalysts, c.handleGetExecutors))
}

func (c *UsersController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users", c.RequireGroup(domain.GroupAdmins, c.handleGetUsers))
	mux.HandleFunc("POST /api/users", c.RequireGroup(domain.GroupAdmins, c.handleCreateUser))
	mux.HandleFunc("GET /api/users/{id}", c.RequireGroup(domain.GroupAdmins, c.handleGetUserById))
	mux.HandleFunc("DELETE /api/users/{id}", c.RequireGroup(domain.GroupAdmins, c.handleDeleteUser))
	mux.HandleFunc("POST /api/users/{id}/apikey", c.RequireGroup(domain.GroupAdmins, c.handleRotateApiKey))
}

func (c *ArticlesController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/articles", c.RequireGroup(domain.GroupAnalysts, c.handleListArticles))
	mux.HandleFunc("POST /api/articles/query", c.RequireGroup(domain.GroupAnalysts, c.handleQueryArticles))
	mux.HandleFunc("GET /api/articles/{id}", c.RequireGroup(domain.GroupAnalysts, c.handleGetArticle))
	mux.HandleFunc("GET /api/articles/{id}/timeline", c.RequireGroup(domain.GroupAnalysts, c.handleGetArticleTimeline))
	mux.HandleFunc("POST /api/articles/{id}/requeue", c.RequireGroup(domain.GroupAdmins, c.handleRequeueArticle))
}

func (c *ReviewController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/review", c.RequireGroup(domain.GroupAnalysts, c.handleGetReviewQueue))
	mux.HandleFunc("POST /api/review/{id}", c.RequireGroup(domain.GroupAnalysts, c.handleReviewDecision))
}

func (c *CommentsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/articles/{id}/comments", c.RequireGroup(domain.GroupAnalysts, c.handleGetComments))
	mux.HandleFunc("POST /api/articles/{id}/comments", c.RequireGroup(domain.GroupAnalysts, c.handleCreateComment))
	mux.HandleFunc("DELETE /api/comments/{id}", c.RequireGroup(domain.GroupAnalysts, c.handleDeleteComment))
}

func (c *FeedsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/feeds", c.RequireGroup(domain.GroupAnalysts, c.handleGetFeeds))
	mux.HandleFunc("POST /api/feeds/{id}/poll", c.RequireGroup(domain.GroupAnalysts, c.handleForcePoll))

	mux.HandleFunc("POST /api/feeds", c.RequireGroup(domain.GroupAdmins, c.handleCreateFeed))
	mux.HandleFunc("PUT /api/feeds/{id}", c.RequireGroup(domain.GroupAdmins, c.handleUpdateFeed))
	mux.HandleFunc("DELETE /api/feeds/{id}", c.RequireGroup(domain.GroupAdmins, c.handleDeleteFeed))
}

func (c *DeadLettersController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/deadletters", c.RequireGroup(domain.GroupAdmins, c.handleGetDeadLetters))
	mux.HandleFunc("POST /api/deadletters/{id}/redrive", c.RequireGroup(domain.GroupAdmins, c.handleRedrive))
}

func (c *OverviewController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/overview", c.RequireGroup(domain.GroupAnalysts, c.handleOverview))
}

func (c *ChatController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", c.RequireGroup(domain.GroupAnalysts, c.handleChat))
}

func (c *HealthController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", c.handleHealth)
}
