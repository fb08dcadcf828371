package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rtemka/foodoo/domain"
	"github.com/rtemka/foodoo/pkg/intake"
)

type item = domain.FoodItem

var (
	ErrInternal = errors.New("internal server error")
	ErrBadInput = errors.New("invalid input")
)

const requestTimeout = 5 * time.Second

// Tracker - операции над списком продуктов и счетчиком потребления.
type Tracker interface {
	Refresh(ctx context.Context) ([]item, error)
	Item(ctx context.Context, id string) (item, error)
	UpdateItem(ctx context.Context, it item) error
	Consume(ctx context.Context, id string) (intake.Badge, error)
	Delete(ctx context.Context, id string) (intake.Badge, error)
	IntakeList(ctx context.Context) ([]item, error)
	DeleteStored(ctx context.Context, id string) ([]item, error)
	Badge() intake.Badge
}

// API приложения.
type API struct {
	router   *mux.Router
	tracker  Tracker
	ws       http.Handler
	validate *validator.Validate
	logger   *log.Logger
}

// Возвращает новый объект *API. ws обслуживает /ws и может быть nil.
func New(tracker Tracker, ws http.Handler, logger *log.Logger) *API {
	api := API{
		router:   mux.NewRouter(),
		tracker:  tracker,
		ws:       ws,
		validate: validator.New(),
		logger:   logger,
	}
	api.endpoints()

	return &api
}

// Router возвращает маршрутизатор запросов.
func (api *API) Router() *mux.Router {
	return api.router
}

func (api *API) endpoints() {
	api.router.Use(
		api.logRequestMiddleware,
		api.closerMiddleware,
		api.headersMiddleware,
	)

	api.router.HandleFunc("/items", api.itemsHandlerList()).Methods(http.MethodGet, http.MethodOptions)
	api.router.HandleFunc("/items", api.itemsHandlerPut()).Methods(http.MethodPut, http.MethodOptions)
	api.router.HandleFunc("/items/{id}", api.itemsHandlerGet()).Methods(http.MethodGet, http.MethodOptions)
	api.router.HandleFunc("/items/{id}", api.itemsHandlerDelete()).Methods(http.MethodDelete, http.MethodOptions)
	api.router.HandleFunc("/items/{id}/consume", api.itemsHandlerConsume()).Methods(http.MethodPost, http.MethodOptions)
	api.router.HandleFunc("/intake", api.intakeHandlerList()).Methods(http.MethodGet, http.MethodOptions)
	api.router.HandleFunc("/intake/badge", api.intakeHandlerBadge()).Methods(http.MethodGet, http.MethodOptions)
	api.router.HandleFunc("/intake/{id}", api.intakeHandlerDelete()).Methods(http.MethodDelete, http.MethodOptions)

	if api.ws != nil {
		api.router.Handle("/ws", api.ws).Methods(http.MethodGet)
	}
}

// headersMiddleware задает обычные заголовки для всех ответов.
func (api *API) headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// closerMiddleware считывает и закрывает тело запроса
// для повторного использования TCP-соединения.
func (api *API) closerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		_, _ = io.Copy(io.Discard, r.Body)
		_ = r.Body.Close()
	})
}

// logRequestMiddleware логирует request
func (api *API) logRequestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		api.logger.Printf("method=%s path=%s query=%s vars=%s remote=%s",
			r.Method, r.URL.Path, r.URL.Query(), mux.Vars(r), r.RemoteAddr)
	})
}

func (api *API) WriteJSONError(w http.ResponseWriter, err error, code int) {
	w.WriteHeader(code)
	msg := map[string]string{"error": err.Error()}
	_ = json.NewEncoder(w).Encode(&msg)
}

func (api *API) WriteJSON(w http.ResponseWriter, data any, code int) {
	w.WriteHeader(code)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

// writeError переводит ошибку в код ответа. Текст ActionError
// отдается клиенту как есть.
func (api *API) writeError(w http.ResponseWriter, err error) {
	var actErr *intake.ActionError
	switch {
	case errors.Is(err, domain.ErrInvalidID):
		api.WriteJSONError(w, fmt.Errorf("%w: bad 'id' path parameter", ErrBadInput), http.StatusBadRequest)
	case errors.Is(err, domain.ErrNotFound):
		api.WriteJSONError(w, domain.ErrNotFound, http.StatusNotFound)
	case errors.As(err, &actErr):
		api.WriteJSONError(w, actErr, http.StatusBadGateway)
	default:
		api.logger.Println(err)
		api.WriteJSONError(w, ErrInternal, http.StatusInternalServerError)
	}
}

// writeBadgeError - как writeError, но к ActionError прикладывает
// бейдж, который вернула сама операция.
func (api *API) writeBadgeError(w http.ResponseWriter, err error, badge intake.Badge) {
	var actErr *intake.ActionError
	if !errors.As(err, &actErr) {
		api.writeError(w, err)
		return
	}
	api.WriteJSON(w, map[string]any{
		"error":  actErr.Error(),
		"intake": badge,
	}, http.StatusBadGateway)
}

// updateItemRequest - тело PUT /items. StoredCount клиентом
// не задается, отсутствующие поля сохраняют текущие значения.
type updateItemRequest struct {
	ID       string   `json:"id" validate:"required"`
	Name     string   `json:"name" validate:"required"`
	Calories *string  `json:"calories"`
	Price    *string  `json:"price"`
	Rate     *float32 `json:"rate" validate:"omitempty,gte=0,lte=5"`
}

// apply переносит заданные поля запроса на текущее описание.
func (req updateItemRequest) apply(it item) item {
	it.Name = req.Name
	if req.Calories != nil {
		it.Calories = *req.Calories
	}
	if req.Price != nil {
		it.Price = *req.Price
	}
	if req.Rate != nil {
		it.Rate = *req.Rate
	}
	return it
}

// itemsHandlerList перечитывает и возвращает весь список продуктов.
func (api *API) itemsHandlerList() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		items, err := api.tracker.Refresh(ctx)
		if err != nil {
			api.writeError(w, err)
			return
		}
		api.WriteJSON(w, map[string]any{"items": items, "intake": api.tracker.Badge()}, http.StatusOK)
	}
}

// itemsHandlerGet получает продукт по id.
func (api *API) itemsHandlerGet() http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		item, err := api.tracker.Item(ctx, id)
		if err != nil {
			api.writeError(w, err)
			return
		}

		api.WriteJSON(w, item, http.StatusOK)
	}
}

// itemsHandlerPut обновляет описание продукта.
func (api *API) itemsHandlerPut() http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {

		var req updateItemRequest
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil || req.ID == "" {
			api.WriteJSONError(w, fmt.Errorf("%w: bad JSON string in request body", ErrBadInput), http.StatusBadRequest)
			return
		}
		if err := api.validate.Struct(req); err != nil {
			api.WriteJSONError(w, fmt.Errorf("%w: %v", ErrBadInput, err), http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		cur, err := api.tracker.Item(ctx, req.ID)
		if err != nil {
			api.writeError(w, err)
			return
		}

		if err := api.tracker.UpdateItem(ctx, req.apply(cur)); err != nil {
			api.writeError(w, err)
			return
		}

		api.WriteJSON(w, map[string]any{"updated": map[string]string{"id": req.ID}}, http.StatusOK)
	}
}

// itemsHandlerConsume отмечает порцию продукта как съеденную.
func (api *API) itemsHandlerConsume() http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		badge, err := api.tracker.Consume(ctx, id)
		if err != nil {
			api.writeBadgeError(w, err, badge)
			return
		}

		api.WriteJSON(w, map[string]any{"intake": badge}, http.StatusOK)
	}
}

// itemsHandlerDelete удаляет продукт из каталога.
func (api *API) itemsHandlerDelete() http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		badge, err := api.tracker.Delete(ctx, id)
		if err != nil {
			api.writeBadgeError(w, err, badge)
			return
		}

		api.WriteJSON(w, map[string]any{
			"deleted": map[string]string{"id": id},
			"intake":  badge,
		}, http.StatusOK)
	}
}

// intakeHandlerList возвращает список потребления.
func (api *API) intakeHandlerList() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		items, err := api.tracker.IntakeList(ctx)
		if err != nil {
			api.writeError(w, err)
			return
		}
		api.WriteJSON(w, intakeResponse(items), http.StatusOK)
	}
}

// intakeHandlerDelete удаляет продукт из списка потребления.
func (api *API) intakeHandlerDelete() http.HandlerFunc {

	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		items, err := api.tracker.DeleteStored(ctx, id)
		if err != nil {
			api.writeError(w, err)
			return
		}
		api.WriteJSON(w, intakeResponse(items), http.StatusOK)
	}
}

func (api *API) intakeHandlerBadge() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		api.WriteJSON(w, api.tracker.Badge(), http.StatusOK)
	}
}

func intakeResponse(items []item) map[string]any {
	resp := map[string]any{"items": items}
	if len(items) == 0 {
		resp["message"] = intake.EmptyIntakeMessage
	}
	return resp
}
