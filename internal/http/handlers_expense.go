package http

import (
	"net/http"

	"finapp/internal/core"
	applog "finapp/internal/log"
)

type expenseResponse struct {
	EntryID   string                `json:"entryId"`
	Entry     core.LedgerEntry      `json:"entry"`
	Aggregate core.MonthlyAggregate `json:"aggregate"`
	Replayed  bool                  `json:"replayed"`
}

type entriesResponse struct {
	Entries []core.LedgerEntry `json:"entries"`
}

type aggregatesResponse struct {
	Aggregates []core.MonthlyAggregate `json:"aggregates"`
}

// handleRecordExpense appends an expense and returns the updated monthly rollup.
func (s *Server) handleRecordExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.PathValue("userID")

	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, applog.OpRecordExpense, err)
		return
	}
	in, err := req.input(idempotencyKey(r))
	if err != nil {
		writeError(w, r, applog.OpRecordExpense, err)
		return
	}

	res, err := s.ledger.RecordExpense(ctx, userID, in)
	if err != nil {
		writeError(w, r, applog.OpRecordExpense, err)
		return
	}
	s.aggregates.Delete(aggregateKey(userID, res.Aggregate.Period))

	fields := applog.NewFields().
		WithOperation(applog.OpRecordExpense).
		WithEntry(userID, res.EntryID(), res.Entry.Period, res.Entry.Category, res.Entry.Amount.Cents)
	fields["replayed"] = res.Replayed
	applog.FromContext(ctx).InfoContext(ctx, "Expense recorded", fields.ToSlice()...)

	NewResponse().
		Replayed(res.Replayed).
		JSON(expenseResponse{
			EntryID:   res.EntryID(),
			Entry:     res.Entry,
			Aggregate: res.Aggregate,
			Replayed:  res.Replayed,
		}).
		Write(w)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.ListEntries(r.Context(), r.PathValue("userID"), r.URL.Query().Get("period"))
	if err != nil {
		writeError(w, r, "list_expenses", err)
		return
	}
	NewResponse().JSON(entriesResponse{Entries: entries}).Write(w)
}

// handleGetMonthlyStats serves one rollup, from cache when possible.
func (s *Server) handleGetMonthlyStats(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	period, err := core.ParsePeriod(r.PathValue("period"))
	if err != nil {
		writeError(w, r, "get_monthly_stats", err)
		return
	}

	key := aggregateKey(userID, period)
	if agg, ok := s.aggregates.Get(key); ok {
		NewResponse().JSON(agg).Write(w)
		return
	}

	gen := s.aggregates.Generation()
	agg, err := s.ledger.GetMonthlyAggregate(r.Context(), userID, period)
	if err != nil {
		writeError(w, r, "get_monthly_stats", err)
		return
	}
	s.aggregates.SetIfGeneration(key, agg, gen)
	NewResponse().JSON(agg).Write(w)
}

func (s *Server) handleListMonthlyStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	aggs, err := s.ledger.ListMonthlyAggregates(r.Context(), r.PathValue("userID"), q.Get("from"), q.Get("to"))
	if err != nil {
		writeError(w, r, "list_monthly_stats", err)
		return
	}
	NewResponse().JSON(aggregatesResponse{Aggregates: aggs}).Write(w)
}
