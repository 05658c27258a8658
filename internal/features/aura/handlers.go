// Package aura — handlers.go обрабатывает HTTP-запросы к движку очков ауры.
//
// Через HTTP нельзя задать множитель: его передают только внутренние вызовы
// (выплаты челленджей отряда) напрямую через Service.Award.
package aura

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/aura-points/internal/common"
)

// Коды ответа в конверте {code, message, data}
const (
	codeOK               = 0
	codeBadRequest       = 40001
	codeValidationFailed = 40002
	codeUnknownActivity  = 40401
	codeDuplicate        = 40901
	codeDailyCap         = 42901
	codeStoreFailed      = 50301
	codeInternal         = 50001
)

// response — единый формат ответа API.
type response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func respond(c *gin.Context, status, code int, message string, data any) {
	c.JSON(status, response{Code: code, Message: message, Data: data})
}

// awardBody — тело запроса на начисление.
type awardBody struct {
	Activity    ActivityKind `json:"activity" binding:"required"`
	Proof       *Proof       `json:"proof"`
	Description string       `json:"description"`
	UniqueKey   string       `json:"unique_key"`
}

// Handler обрабатывает HTTP-запросы движка.
type Handler struct {
	service *Service
}

// NewHandler создаёт новый обработчик.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Register подключает маршруты к группе /api/v1.
func (h *Handler) Register(g *gin.RouterGroup) {
	users := g.Group("/users/:id")
	users.POST("/awards", h.HandleAward)
	users.GET("/stats", h.HandleStats)
	users.GET("/transactions", h.HandleTransactions)
	g.GET("/activities", h.HandleActivities)
}

// HandleAward обрабатывает POST /users/:id/awards.
//
// Ответ при начислении:
//
//	{"code":0,"message":"Медитация: +20 очков","data":{"accepted":true,"points":20,...}}
//
// Отказ приходит с кодом вида отказа и accepted=false. Сбой хранилища — 503,
// запрос можно повторить с тем же unique_key.
func (h *Handler) HandleAward(c *gin.Context) {
	var body awardBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respond(c, http.StatusBadRequest, codeBadRequest, "некорректное тело запроса: "+err.Error(), nil)
		return
	}

	// Бонусы за вехи и уровни начисляет только воркер очереди
	if rule, ok := h.service.Catalog().Rule(body.Activity); ok && rule.SystemOnly {
		res := reject(KindValidationFailed, fmt.Sprintf("активность %q начисляется только системой", body.Activity))
		respond(c, http.StatusOK, codeValidationFailed, res.Message, res)
		return
	}

	result, err := h.service.Award(c.Request.Context(), AwardRequest{
		UserID:      c.Param("id"),
		Activity:    body.Activity,
		Proof:       body.Proof,
		Description: body.Description,
		UniqueKey:   body.UniqueKey,
	})
	if err != nil {
		if result == nil || !errors.Is(err, common.ErrStoreWriteFailed) {
			log.WithError(err).Error("Ошибка начисления")
			respond(c, http.StatusInternalServerError, codeInternal, "внутренняя ошибка", nil)
			return
		}
		c.Header("Retry-After", "1")
		respond(c, http.StatusServiceUnavailable, codeStoreFailed, result.Message, result)
		return
	}

	respond(c, http.StatusOK, resultCode(result), result.Message, result)
}

// HandleStats обрабатывает GET /users/:id/stats.
func (h *Handler) HandleStats(c *gin.Context) {
	stats, err := h.service.GetStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.WithError(err).Error("Ошибка получения статистики")
		respond(c, http.StatusServiceUnavailable, codeStoreFailed, "ошибка получения статистики", nil)
		return
	}
	respond(c, http.StatusOK, codeOK, "success", stats)
}

// HandleTransactions обрабатывает GET /users/:id/transactions?limit=N.
func (h *Handler) HandleTransactions(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			respond(c, http.StatusBadRequest, codeBadRequest, "limit должен быть числом", nil)
			return
		}
		limit = v
	}

	txs, err := h.service.ListRecentTransactions(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		log.WithError(err).Error("Ошибка получения транзакций")
		respond(c, http.StatusServiceUnavailable, codeStoreFailed, "ошибка получения транзакций", nil)
		return
	}
	if txs == nil {
		txs = []*PointTransaction{}
	}
	respond(c, http.StatusOK, codeOK, "success", gin.H{
		"transactions": txs,
		"count":        len(txs),
	})
}

// activityView — правило активности для клиента.
type activityView struct {
	Kind       ActivityKind `json:"kind"`
	Title      string       `json:"title"`
	BasePoints int64        `json:"base_points"`
	DailyCap   int          `json:"daily_cap"`
	ProofType  ProofType    `json:"proof_type,omitempty"`
	MinValue   float64      `json:"min_value,omitempty"`
	SystemOnly bool         `json:"system_only,omitempty"`
}

// HandleActivities обрабатывает GET /activities — каталог активностей.
func (h *Handler) HandleActivities(c *gin.Context) {
	catalog := h.service.Catalog()
	views := make([]activityView, 0, len(catalog.Kinds()))
	for _, kind := range catalog.Kinds() {
		r, _ := catalog.Rule(kind)
		views = append(views, activityView{
			Kind:       r.Kind,
			Title:      r.Title,
			BasePoints: r.BasePoints,
			DailyCap:   r.DailyCap,
			ProofType:  r.Proof.Type,
			MinValue:   r.Proof.MinValue,
			SystemOnly: r.SystemOnly,
		})
	}
	respond(c, http.StatusOK, codeOK, "success", gin.H{
		"activities":          views,
		"daily_point_ceiling": catalog.DailyPointCeiling(),
	})
}

func resultCode(r *AwardResult) int {
	if r.Accepted {
		return codeOK
	}
	switch err := r.Reason.Err(); {
	case errors.Is(err, common.ErrValidationFailed):
		return codeValidationFailed
	case errors.Is(err, common.ErrUnknownActivity):
		return codeUnknownActivity
	case errors.Is(err, common.ErrDuplicateActivity):
		return codeDuplicate
	case errors.Is(err, common.ErrDailyCapExceeded):
		return codeDailyCap
	default:
		return codeStoreFailed
	}
}
