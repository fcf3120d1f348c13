package controllers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/sentinelwatch/sentinel/internal/domain"
	"github.com/sentinelwatch/sentinel/internal/engine"
	"github.com/sentinelwatch/sentinel/internal/models"
)

// CommentRepo is the comment persistence surface the API needs.
type CommentRepo interface {
	Save(c *domain.Comment) (int64, error)
	FindByID(id int64) (*domain.Comment, error)
	FindAllByArticleID(articleID int64) (*[]domain.Comment, error)
	DeleteById(id int64) error
}

type CommentsController struct {
	AuthController
	Comments CommentRepo
	Articles ArticleRepo
}

func NewCommentsController(comments CommentRepo, articles ArticleRepo, userRepo engine.UserRepo) *CommentsController {
	return &CommentsController{
		Comments: comments,
		Articles: articles,
		AuthController: AuthController{
			UserRepo: userRepo,
		},
	}
}

func (c *CommentsController) handleGetComments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	articleID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid article id", http.StatusBadRequest)
		return
	}
	if a, err := c.Articles.FindByID(articleID); err != nil || a == nil {
		http.Error(w, "article not found", http.StatusNotFound)
		return
	}

	comments, err := c.Comments.FindAllByArticleID(articleID)
	if err != nil {
		slog.Error("Failed to load comments", "articleId", articleID, "error", err)
		http.Error(w, "failed to load comments", http.StatusInternalServerError)
		return
	}
	out := make([]domain.Comment, 0)
	if comments != nil {
		out = *comments
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(out)
}

func (c *CommentsController) handleCreateComment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	articleID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid article id", http.StatusBadRequest)
		return
	}
	if a, err := c.Articles.FindByID(articleID); err != nil || a == nil {
		http.Error(w, "article not found", http.StatusNotFound)
		return
	}

	var req models.CreateCommentRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		http.Error(w, "body is required", http.StatusBadRequest)
		return
	}

	comment := &domain.Comment{
		ArticleID: articleID,
		Author:    UsernameFromContext(r.Context()),
		Body:      req.Body,
	}
	id, err := c.Comments.Save(comment)
	if err != nil {
		slog.Error("Failed to save comment", "articleId", articleID, "error", err)
		http.Error(w, "failed to save comment", http.StatusInternalServerError)
		return
	}
	comment.ID = id

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(comment)
}

// handleDeleteComment removes a comment. Only the author or an admin may
// delete.
func (c *CommentsController) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid comment id", http.StatusBadRequest)
		return
	}

	comment, err := c.Comments.FindByID(id)
	if err != nil {
		slog.Error("Failed to load comment", "commentId", id, "error", err)
		http.Error(w, "failed to load comment", http.StatusInternalServerError)
		return
	}
	if comment == nil {
		http.Error(w, "comment not found", http.StatusNotFound)
		return
	}

	caller := UsernameFromContext(r.Context())
	if comment.Author != caller && !groupAllowed(GroupsFromContext(r.Context()), domain.GroupAdmins) {
		http.Error(w, "only the author or an admin can delete a comment", http.StatusForbidden)
		return
	}

	if err := c.Comments.DeleteById(id); err != nil {
		slog.Error("Failed to delete comment", "commentId", id, "error", err)
		http.Error(w, "failed to delete comment", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
