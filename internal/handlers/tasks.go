package handlers

import (
	"context"
	"net/http"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/money"
	"marketplace/internal/services"

	"github.com/go-chi/chi/v5"
)

type createTaskRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	Urgency      string `json:"urgency"`
	DurationDays int    `json:"duration_days"`
	Budget       string `json:"budget"`
}

type taskResponse struct {
	ID             string            `json:"id"`
	ClientID       string            `json:"client_id"`
	FreelancerID   *string           `json:"freelancer_id,omitempty"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Category       string            `json:"category"`
	Urgency        string            `json:"urgency"`
	DurationDays   int               `json:"duration_days"`
	Budget         string            `json:"budget"`
	PlatformFee    string            `json:"platform_fee"`
	TransactionFee string            `json:"transaction_fee"`
	Status         models.TaskStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	AssignedAt     *time.Time        `json:"assigned_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
}

func taskView(t models.Task) taskResponse {
	return taskResponse{
		ID:             t.ID,
		ClientID:       t.ClientID,
		FreelancerID:   t.FreelancerID,
		Title:          t.Title,
		Description:    t.Description,
		Category:       t.Category,
		Urgency:        t.Urgency,
		DurationDays:   t.DurationDays,
		Budget:         money.FormatMinor(t.Budget),
		PlatformFee:    money.FormatMinor(t.PlatformFee),
		TransactionFee: money.FormatMinor(t.TransactionFee),
		Status:         t.Status,
		CreatedAt:      t.CreatedAt,
		AssignedAt:     t.AssignedAt,
		CompletedAt:    t.CompletedAt,
	}
}

type proposalResponse struct {
	ID            string                `json:"id"`
	TaskID        string                `json:"task_id"`
	FreelancerID  string                `json:"freelancer_id"`
	BidAmount     string                `json:"bid_amount"`
	CoverLetter   string                `json:"cover_letter"`
	EstimatedDays int                   `json:"estimated_days"`
	Status        models.ProposalStatus `json:"status"`
	SubmittedAt   time.Time             `json:"submitted_at"`
}

func proposalView(p models.Proposal) proposalResponse {
	return proposalResponse{
		ID:            p.ID,
		TaskID:        p.TaskID,
		FreelancerID:  p.FreelancerID,
		BidAmount:     money.FormatMinor(p.BidAmount),
		CoverLetter:   p.CoverLetter,
		EstimatedDays: p.EstimatedDays,
		Status:        p.Status,
		SubmittedAt:   p.SubmittedAt,
	}
}

func proposalViews(ps []models.Proposal) []proposalResponse {
	out := make([]proposalResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, proposalView(p))
	}
	return out
}

func taskViews(ts []models.Task) []taskResponse {
	out := make([]taskResponse, 0, len(ts))
	for _, t := range ts {
		out = append(out, taskView(t))
	}
	return out
}

// decodeTask reads a task body; false means a 400 was already written.
func decodeTask(w http.ResponseWriter, r *http.Request) (services.TaskInput, bool) {
	var req createTaskRequest
	if !decodeJSON(w, r, &req) {
		return services.TaskInput{}, false
	}
	budget, err := parseAmountMinor(req.Budget)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return services.TaskInput{}, false
	}
	return services.TaskInput{
		Title:        req.Title,
		Description:  req.Description,
		Category:     req.Category,
		Urgency:      req.Urgency,
		DurationDays: req.DurationDays,
		Budget:       budget,
	}, true
}

func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	in, ok := decodeTask(w, r)
	if !ok {
		return
	}
	task, err := h.tasks.Create(r.Context(), actor, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, taskView(task))
}

func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	task, err := h.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, taskView(task))
}

func (h *Handler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	in, ok := decodeTask(w, r)
	if !ok {
		return
	}
	task, err := h.tasks.Update(r.Context(), actor, chi.URLParam(r, "id"), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, taskView(task))
}

// ListTasks defaults to the client view.
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	role := models.Role(r.URL.Query().Get("role"))
	if role == "" {
		role = models.RoleClient
	}
	limit, offset := pagination(r)
	tasks, err := h.tasks.List(r.Context(), actor, role, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, taskViews(tasks))
}

func (h *Handler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := h.tasks.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type taskTransition func(ctx context.Context, actor services.Actor, taskID string) (models.Task, error)

// transition adapts the single-task lifecycle operations to HTTP.
func (h *Handler) transition(move taskTransition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := requireActor(w, r)
		if !ok {
			return
		}
		task, err := move(r.Context(), actor, chi.URLParam(r, "id"))
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, taskView(task))
	}
}

func (h *Handler) SettleTask(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	result, err := h.tasks.Settle(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	split := result.Settlement.Split
	respondJSON(w, http.StatusOK, map[string]any{
		"task":              taskView(result.Task),
		"total_due":         money.FormatMinor(split.TotalDue),
		"freelancer_amount": money.FormatMinor(split.FreelancerAmount),
		"platform_amount":   money.FormatMinor(split.PlatformAmount),
		"entries":           entryViews(result.Settlement.Entries),
	})
}

type submitProposalRequest struct {
	BidAmount     string `json:"bid_amount"`
	CoverLetter   string `json:"cover_letter"`
	EstimatedDays int    `json:"estimated_days"`
}

func (h *Handler) SubmitProposal(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req submitProposalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	bid, err := parseAmountMinor(req.BidAmount)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	proposal, err := h.proposals.Submit(r.Context(), actor, services.ProposalInput{
		TaskID:        chi.URLParam(r, "id"),
		BidAmount:     bid,
		CoverLetter:   req.CoverLetter,
		EstimatedDays: req.EstimatedDays,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, proposalView(proposal))
}

func (h *Handler) ListProposals(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	proposals, err := h.proposals.List(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, proposalViews(proposals))
}

func (h *Handler) AcceptProposal(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	assignment, err := h.tasks.AssignFreelancer(r.Context(), actor, chi.URLParam(r, "id"), chi.URLParam(r, "proposalID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"task":     taskView(assignment.Task),
		"accepted": proposalView(assignment.Accepted),
		"rejected": proposalViews(assignment.Rejected),
	})
}
