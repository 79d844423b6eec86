// Package devserver is an in-memory stand-in for the real backend. It
// serves the same envelope, routes and analytics as production, which makes
// it usable both for local development and as the fixture in end-to-end
// tests of the sync path.
package devserver

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	stdsync "sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"spendlog/internal/analytics"
	"spendlog/internal/core"
	applog "spendlog/internal/log"
)

type Config struct {
	// Token, when set, is required as a bearer credential on /api routes.
	Token string

	// MonthlyBudget feeds the insights endpoint.
	MonthlyBudget float64

	// Now is the clock for insights and timestamps; nil means time.Now.
	Now func() time.Time
}

type Server struct {
	cfg Config
	log *applog.Logger

	mu       stdsync.Mutex
	expenses []core.Expense
}

func New(cfg Config, logger *applog.Logger) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = applog.New(applog.DefaultConfig()).WithComponent(applog.ComponentDevServer)
	}
	return &Server{cfg: cfg, log: logger}
}

// Router builds the full route tree. Mounted at the server root; clients
// point their base URL at <addr>/api.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}))

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Group(func(authed chi.Router) {
			authed.Use(s.requireToken)
			authed.Route("/expenses", func(exp chi.Router) {
				exp.Get("/", s.handleList)
				exp.Post("/", s.handleCreate)
				exp.Post("/sync", s.handleSync)
				exp.Get("/analytics/category-breakdown", s.handleBreakdown)
				exp.Get("/analytics/insights", s.handleInsights)
				exp.Put("/{id}", s.handleUpdate)
				exp.Delete("/{id}", s.handleDelete)
			})
		})
	})
	return r
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != s.cfg.Token {
				writeError(w, http.StatusUnauthorized, "Not authorized")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Seed replaces the stored expenses. Test helper.
func (s *Server) Seed(expenses []core.Expense) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expenses = append([]core.Expense(nil), expenses...)
}

// Expenses returns a snapshot of the stored expenses, newest first.
func (s *Server) Expenses() []core.Expense {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]core.Expense(nil), s.expenses...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.cfg.Now().Format(time.RFC3339),
	})
}

type createRequest struct {
	Amount        float64            `json:"amount"`
	Category      core.Category      `json:"category"`
	PaymentMethod core.PaymentMethod `json:"paymentMethod"`
	Description   string             `json:"description"`
	Date          time.Time          `json:"date"`
	ClientID      string             `json:"clientId"`
}

func (req createRequest) toExpense(now time.Time) core.Expense {
	date := req.Date
	if date.IsZero() {
		date = now
	}
	return core.Expense{
		Amount:        req.Amount,
		Category:      req.Category,
		PaymentMethod: req.PaymentMethod,
		Description:   req.Description,
		Date:          date,
		ClientID:      req.ClientID,
	}
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	now := s.cfg.Now()
	e := req.toExpense(now)
	if err := e.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	e = s.admit(e, now)
	s.log.Info("Created expense", applog.FieldExpenseID, e.ID, applog.FieldAmount, e.Amount)
	writeData(w, http.StatusCreated, "Expense created", e, 0)
}

// admit assigns identity and stores the record.
func (s *Server) admit(e core.Expense, now time.Time) core.Expense {
	e.ID = uuid.NewString()
	e.Synced = true
	e.CreatedAt = now
	e.UpdatedAt = now

	s.mu.Lock()
	s.expenses = append(s.expenses, e)
	s.mu.Unlock()
	return e
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}
	category := core.Category(r.URL.Query().Get("category"))

	var out []core.Expense
	for _, e := range s.Expenses() {
		if from != nil && e.Date.Before(*from) {
			continue
		}
		if to != nil && e.Date.After(*to) {
			continue
		}
		if category != "" && e.Category != category {
			continue
		}
		out = append(out, e)
	}
	if out == nil {
		out = []core.Expense{}
	}
	writeData(w, http.StatusOK, "", out, len(out))
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch core.ExpensePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := patch.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.expenses {
		if s.expenses[i].ID == id {
			updated := s.expenses[i].Apply(patch)
			updated.Synced = true
			updated.UpdatedAt = s.cfg.Now()
			s.expenses[i] = updated
			writeData(w, http.StatusOK, "Expense updated", updated, 0)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Expense not found")
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.expenses {
		if s.expenses[i].ID == id {
			s.expenses = append(s.expenses[:i], s.expenses[i+1:]...)
			writeData(w, http.StatusOK, "Expense deleted", nil, 0)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Expense not found")
}

type syncRequest struct {
	Expenses []createRequest `json:"expenses"`
}

type syncItemError struct {
	Expense createRequest `json:"expense"`
	Error   string        `json:"error"`
}

type syncResponse struct {
	Synced []core.Expense  `json:"synced"`
	Errors []syncItemError `json:"errors"`
}

// handleSync admits a batch of offline-created expenses. Each accepted
// record echoes the clientId it arrived with so the device can retire its
// temporary identifier. Items are validated independently; one bad record
// does not reject the batch.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Expenses) == 0 {
		writeError(w, http.StatusBadRequest, "No expenses to sync")
		return
	}

	now := s.cfg.Now()
	resp := syncResponse{Synced: []core.Expense{}, Errors: []syncItemError{}}
	for _, item := range req.Expenses {
		e := item.toExpense(now)
		if err := e.Validate(); err != nil {
			resp.Errors = append(resp.Errors, syncItemError{Expense: item, Error: err.Error()})
			continue
		}
		resp.Synced = append(resp.Synced, s.admit(e, now))
	}

	s.log.Info("Bulk sync",
		applog.FieldSyncedCount, len(resp.Synced),
		applog.FieldLocalCount, len(req.Expenses))
	writeData(w, http.StatusOK, "Sync complete", resp, len(resp.Synced))
}

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseRange(w, r)
	if !ok {
		return
	}
	result := analytics.CategoryBreakdown(s.Expenses(), from, to)
	writeData(w, http.StatusOK, "", result, len(result.Breakdown))
}

func (s *Server) handleInsights(w http.ResponseWriter, _ *http.Request) {
	result := analytics.Insights(s.Expenses(), s.cfg.Now(), s.cfg.MonthlyBudget)
	writeData(w, http.StatusOK, "", result, len(result.Insights))
}

func parseRange(w http.ResponseWriter, r *http.Request) (from, to *time.Time, ok bool) {
	q := r.URL.Query()
	if v := q.Get("startDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid startDate")
			return nil, nil, false
		}
		from = &t
	}
	if v := q.Get("endDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid endDate")
			return nil, nil, false
		}
		to = &t
	}
	return from, to, true
}

type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Count   int    `json:"count,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeData(w http.ResponseWriter, status int, message string, data any, count int) {
	writeJSON(w, status, envelope{Success: true, Message: message, Count: count, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, envelope{Success: false, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
