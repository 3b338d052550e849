package http

import (
	"net/http"

	"finapp/internal/core"
	applog "finapp/internal/log"
)

type contributionResponse struct {
	EntryID   string           `json:"entryId"`
	Entry     core.LedgerEntry `json:"entry"`
	Goal      core.Goal        `json:"goal"`
	Completed bool             `json:"completed"`
	Replayed  bool             `json:"replayed"`
}

type goalsResponse struct {
	Goals []core.Goal `json:"goals"`
}

func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	var req goalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpCreateGoal, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, applog.OpCreateGoal, err)
		return
	}

	goal, err := s.ledger.CreateGoal(r.Context(), userID, in)
	if err != nil {
		writeError(w, r, applog.OpCreateGoal, err)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Goal created",
		applog.NewFields().WithOperation(applog.OpCreateGoal).WithGoal(userID, goal.ID, goal.Target.Cents).ToSlice()...)
	NewResponse().
		Status(http.StatusCreated).
		Header("Location", "/users/"+userID+"/goals/"+goal.ID).
		JSON(goal).
		Write(w)
}

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := s.ledger.ListGoals(r.Context(), r.PathValue("userID"))
	if err != nil {
		writeError(w, r, "list_goals", err)
		return
	}
	NewResponse().JSON(goalsResponse{Goals: goals}).Write(w)
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	goal, err := s.ledger.GetGoal(r.Context(), r.PathValue("userID"), r.PathValue("goalID"))
	if err != nil {
		writeError(w, r, "get_goal", err)
		return
	}
	NewResponse().JSON(goal).Write(w)
}

// handleRecordContribution applies a contribution and returns the goal after commit.
func (s *Server) handleRecordContribution(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, goalID := r.PathValue("userID"), r.PathValue("goalID")

	var req contributionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpRecordContribution, err)
		return
	}
	in, err := req.input(idempotencyKey(r))
	if err != nil {
		writeError(w, r, applog.OpRecordContribution, err)
		return
	}

	res, err := s.ledger.RecordGoalContribution(ctx, userID, goalID, in)
	if err != nil {
		writeError(w, r, applog.OpRecordContribution, err)
		return
	}

	fields := applog.NewFields().
		WithOperation(applog.OpRecordContribution).
		WithGoal(userID, goalID, res.Entry.Amount.Cents)
	fields[applog.FieldEntryID] = res.Entry.ID
	fields["completed"] = res.Completed
	fields["replayed"] = res.Replayed
	applog.FromContext(ctx).InfoContext(ctx, "Contribution recorded", fields.ToSlice()...)

	NewResponse().
		Replayed(res.Replayed).
		JSON(contributionResponse{
			EntryID:   res.Entry.ID,
			Entry:     res.Entry,
			Goal:      res.Goal,
			Completed: res.Completed,
			Replayed:  res.Replayed,
		}).
		Write(w)
}

func (s *Server) handleListContributions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.ListContributions(r.Context(), r.PathValue("userID"), r.PathValue("goalID"))
	if err != nil {
		writeError(w, r, "list_contributions", err)
		return
	}
	NewResponse().JSON(entriesResponse{Entries: entries}).Write(w)
}

func (s *Server) handleAbandonGoal(w http.ResponseWriter, r *http.Request) {
	goal, err := s.ledger.AbandonGoal(r.Context(), r.PathValue("userID"), r.PathValue("goalID"))
	if err != nil {
		writeError(w, r, applog.OpAbandonGoal, err)
		return
	}
	NewResponse().JSON(goal).Write(w)
}
