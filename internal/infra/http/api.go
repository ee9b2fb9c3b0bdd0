package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"content-autopilot/internal/domain"
	"content-autopilot/internal/infra/queue"
	"content-autopilot/internal/usecase/orchestrator"
	"content-autopilot/internal/usecase/planner"
	"content-autopilot/internal/usecase/schedule"
)

const maxBodyBytes = 1 << 20

// AutomationService настраивает автоматизации.
type AutomationService interface {
	CreateAutomation(ctx context.Context, in schedule.AutomationInput) (domain.Automation, error)
	UpdateCadence(ctx context.Context, automationID int64, rule domain.CadenceRule) (domain.Automation, error)
	Enable(ctx context.Context, automationID int64) (domain.Automation, error)
	Disable(ctx context.Context, automationID int64) (domain.Automation, error)
}

// TopicPlanner строит карты тем и одобряет идеи.
type TopicPlanner interface {
	BuildOrRefresh(ctx context.Context, in planner.NicheInput) (domain.TopicMapDelta, error)
	Approve(ctx context.Context, articleID int64) (domain.PlannedArticle, error)
}

// CreditService управляет балансами проектов.
type CreditService interface {
	Balance(ctx context.Context, projectID int64) (domain.CreditAccount, error)
	TopUp(ctx context.Context, projectID, amount int64) (domain.CreditAccount, error)
	GrantSubscription(ctx context.Context, projectID, amount int64) (domain.CreditAccount, error)
	SetUnlimited(ctx context.Context, projectID int64, unlimited bool) (domain.CreditAccount, error)
}

// Runner запускает обход и действия над отдельными статьями.
type Runner interface {
	RunDue(ctx context.Context) (orchestrator.SweepReport, error)
	Archive(ctx context.Context, articleID int64) (domain.PlannedArticle, error)
	Republish(ctx context.Context, automationID, articleID int64) (domain.PlannedArticle, error)
}

// Reader отдаёт сохранённые сущности.
type Reader interface {
	GetAutomation(ctx context.Context, id int64) (domain.Automation, error)
	GetTopicMap(ctx context.Context, id int64) (domain.TopicMap, error)
	GetArticle(ctx context.Context, id int64) (domain.PlannedArticle, error)
}

// SweepEnqueuer ставит обход в очередь планировщика.
type SweepEnqueuer interface {
	Enqueue(ctx context.Context, trigger queue.SweepTrigger) error
}

// APIDeps содержит зависимости HTTP API. Без Sweeps run-due выполняется синхронно.
type APIDeps struct {
	Automations AutomationService
	Planner     TopicPlanner
	Credits     CreditService
	Runner      Runner
	Reader      Reader
	Sweeps      SweepEnqueuer
}

// API обслуживает /api/v1.
type API struct {
	deps APIDeps
	log  zerolog.Logger
}

// NewAPI создаёт обработчики API.
func NewAPI(deps APIDeps, logger zerolog.Logger) *API {
	return &API{deps: deps, log: logger.With().Str("component", "api").Logger()}
}

// Mount регистрирует маршруты под /api/v1 с проверкой bearer-токена.
func (a *API) Mount(r chi.Router, token string) {
	r.Route("/api/v1", func(api chi.Router) {
		api.Use(BearerAuthMiddleware(token))

		api.Post("/automations", a.createAutomation)
		api.Get("/automations/{id}", a.getAutomation)
		api.Put("/automations/{id}/cadence", a.updateCadence)
		api.Post("/automations/{id}/enable", a.setEnabled(true))
		api.Post("/automations/{id}/disable", a.setEnabled(false))
		api.Post("/automations/{id}/articles/{articleID}/republish", a.republish)

		api.Post("/topic-maps", a.buildTopicMap)
		api.Get("/topic-maps/{id}", a.getTopicMap)

		api.Get("/articles/{id}", a.getArticle)
		api.Post("/articles/{id}/approve", a.approveArticle)
		api.Post("/articles/{id}/archive", a.archiveArticle)

		api.Get("/projects/{projectID}/credits", a.getCredits)
		api.Post("/projects/{projectID}/credits/top-up", a.topUpCredits)
		api.Put("/projects/{projectID}/credits/subscription", a.grantSubscription)
		api.Put("/projects/{projectID}/credits/unlimited", a.setUnlimited)

		api.Post("/run-due", a.runDue)
	})
}

func (a *API) createAutomation(w http.ResponseWriter, r *http.Request) {
	var in schedule.AutomationInput
	if !decodeBody(w, r, &in) {
		return
	}
	automation, err := a.deps.Automations.CreateAutomation(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, automation)
}

func (a *API) getAutomation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	automation, err := a.deps.Reader.GetAutomation(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, automation)
}

func (a *API) updateCadence(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var rule domain.CadenceRule
	if !decodeBody(w, r, &rule) {
		return
	}
	automation, err := a.deps.Automations.UpdateCadence(r.Context(), id, rule)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, automation)
}

func (a *API) setEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "id")
		if !ok {
			return
		}
		toggle := a.deps.Automations.Disable
		if enabled {
			toggle = a.deps.Automations.Enable
		}
		automation, err := toggle(r.Context(), id)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		writeJSON(w, automation)
	}
}

func (a *API) republish(w http.ResponseWriter, r *http.Request) {
	automationID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	articleID, ok := pathID(w, r, "articleID")
	if !ok {
		return
	}
	art, err := a.deps.Runner.Republish(r.Context(), automationID, articleID)
	if err != nil {
		if art.ID != 0 {
			// площадка отказала, статья уже переведена в failed
			a.log.Warn().Err(err).Int64("article_id", art.ID).Msg("api: повторная публикация не удалась")
			writeJSONStatus(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "article": art})
			return
		}
		a.fail(w, r, err)
		return
	}
	writeJSON(w, art)
}

func (a *API) buildTopicMap(w http.ResponseWriter, r *http.Request) {
	var in planner.NicheInput
	if !decodeBody(w, r, &in) {
		return
	}
	delta, err := a.deps.Planner.BuildOrRefresh(r.Context(), in)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"delta": delta, "articles": delta.ArticleCount()})
}

func (a *API) getTopicMap(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	m, err := a.deps.Reader.GetTopicMap(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, m)
}

func (a *API) getArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	art, err := a.deps.Reader.GetArticle(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, art)
}

func (a *API) approveArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	art, err := a.deps.Planner.Approve(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, art)
}

func (a *API) archiveArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	art, err := a.deps.Runner.Archive(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, art)
}

type amountRequest struct {
	Amount int64 `json:"amount"`
}

type unlimitedRequest struct {
	Unlimited bool `json:"unlimited"`
}

func (a *API) getCredits(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	account, err := a.deps.Credits.Balance(r.Context(), projectID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, accountView(account))
}

func (a *API) topUpCredits(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	account, err := a.deps.Credits.TopUp(r.Context(), projectID, req.Amount)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, accountView(account))
}

func (a *API) grantSubscription(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	account, err := a.deps.Credits.GrantSubscription(r.Context(), projectID, req.Amount)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, accountView(account))
}

func (a *API) setUnlimited(w http.ResponseWriter, r *http.Request) {
	projectID, ok := pathID(w, r, "projectID")
	if !ok {
		return
	}
	var req unlimitedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	account, err := a.deps.Credits.SetUnlimited(r.Context(), projectID, req.Unlimited)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, accountView(account))
}

func (a *API) runDue(w http.ResponseWriter, r *http.Request) {
	if a.deps.Sweeps != nil {
		trigger := queue.SweepTrigger{ID: uuid.NewString(), Source: "api", RequestedAt: time.Now().UTC()}
		if err := a.deps.Sweeps.Enqueue(r.Context(), trigger); err != nil {
			a.fail(w, r, fmt.Errorf("постановка обхода в очередь: %w", err))
			return
		}
		writeJSONStatus(w, http.StatusAccepted, map[string]any{"status": "queued", "id": trigger.ID})
		return
	}
	report, err := a.deps.Runner.RunDue(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, report)
}

func accountView(account domain.CreditAccount) map[string]any {
	return map[string]any{"account": account, "available": account.Available()}
}

// fail отвечает статусом по типу ошибки; неожиданные ошибки логируются.
func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		a.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("api: ошибка обработки запроса")
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidCadence),
		errors.Is(err, domain.ErrInvalidNiche),
		errors.Is(err, domain.ErrInvalidCost):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrAutomationDisabled),
		errors.Is(err, orchestrator.ErrNoPublishTarget):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNoIdeas):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return id, true
}
