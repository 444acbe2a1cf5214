package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/time/rate"

	"flashbuy/internal/pkg/logger"
	"flashbuy/internal/service/seckill/application"
	"flashbuy/internal/service/seckill/domain"
)

// Response 是所有接口统一的返回结构
type Response struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// SeckillData 是秒杀接口 data 字段的内容
type SeckillData struct {
	Status  domain.ResultStatus `json:"status"`
	QueueID string              `json:"queueId,omitempty"`
	Reason  domain.RejectReason `json:"reason,omitempty"`
}

// SeckillHandler 封装了秒杀服务的 HTTP 处理器
type SeckillHandler struct {
	admission *application.AdmissionService
	warmUp    *application.WarmUpService
	limiter   *rate.Limiter
}

// NewSeckillHandler 创建处理器。limiter 为 nil 时不限流；warmUp 为 nil 时不注册管理接口。
func NewSeckillHandler(admission *application.AdmissionService, warmUp *application.WarmUpService, limiter *rate.Limiter) *SeckillHandler {
	return &SeckillHandler{admission: admission, warmUp: warmUp, limiter: limiter}
}

// NewLimiter 按配置创建单节点限流器，qps <= 0 表示不限流
func NewLimiter(qps float64, burst int) *rate.Limiter {
	if qps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(qps)
	}
	return rate.NewLimiter(rate.Limit(qps), burst)
}

// RegisterProbes 只注册健康检查和指标
func RegisterProbes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.Handle("GET /metrics", promhttp.Handler())
}

// RegisterRoutes 在 ServeMux 上注册所有路由
func (h *SeckillHandler) RegisterRoutes(mux *http.ServeMux) {
	RegisterProbes(mux)
	mux.HandleFunc("POST /api/v1/trade/seckill", h.handleSeckill)
	mux.HandleFunc("GET /api/v1/trade/result/{token}", h.handleResult)
	if h.warmUp != nil {
		mux.HandleFunc("POST /admin/seckill/warmup", h.handleWarmUp)
		mux.HandleFunc("POST /admin/seckill/events/{eventId}/warmup", h.handleWarmUpEvent)
	}
}

func (h *SeckillHandler) handleSeckill(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	if h.limiter != nil && !h.limiter.Allow() {
		writeReject(w, http.StatusTooManyRequests, domain.ReasonSystemBusy)
		return
	}

	var req application.SeckillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeReject(w, http.StatusBadRequest, domain.ReasonInvalidRequest)
		return
	}

	result, err := h.admission.Admit(ctx, &req)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Int64("sku_id", req.SkuID).Msg("seckill admission failed")
	}
	if !result.Queued {
		writeReject(w, statusFor(result.Reason), result.Reason)
		return
	}

	// 202：请求已受理，订单稍后生成，前端凭 queueId 轮询
	writeJSON(w, http.StatusAccepted, Response{
		Code:    http.StatusAccepted,
		Message: "Queued, please poll for the result",
		Data:    SeckillData{Status: domain.ResultQueued, QueueID: result.QueueID},
	})
}

func (h *SeckillHandler) handleResult(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	result, err := h.admission.QueryResult(ctx, r.PathValue("token"))
	switch {
	case errors.Is(err, domain.ErrResultNotFound):
		writeJSON(w, http.StatusNotFound, Response{Code: http.StatusNotFound, Message: "Unknown or expired queue id"})
	case err != nil:
		logger.Ctx(ctx).Error().Err(err).Msg("failed to query purchase result")
		writeReject(w, http.StatusServiceUnavailable, domain.ReasonSystemBusy)
	default:
		writeJSON(w, http.StatusOK, Response{Code: http.StatusOK, Message: "OK", Data: result})
	}
}

func (h *SeckillHandler) handleWarmUp(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	var req application.WarmUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.EventID <= 0 || req.SkuID <= 0 || req.Stock < 0 {
		writeJSON(w, http.StatusBadRequest, Response{Code: http.StatusBadRequest, Message: "Invalid warm-up request"})
		return
	}
	if err := h.warmUp.WarmUp(ctx, req.EventID, req.SkuID, req.Stock); err != nil {
		writeJSON(w, http.StatusInternalServerError, Response{Code: http.StatusInternalServerError, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, Response{Code: http.StatusOK, Message: "OK", Data: req})
}

func (h *SeckillHandler) handleWarmUpEvent(w http.ResponseWriter, r *http.Request) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

	eventID, err := strconv.ParseInt(r.PathValue("eventId"), 10, 64)
	if err != nil || eventID <= 0 {
		writeJSON(w, http.StatusBadRequest, Response{Code: http.StatusBadRequest, Message: "Invalid event id"})
		return
	}

	report, err := h.warmUp.WarmUpEvent(ctx, eventID)
	switch {
	case errors.Is(err, domain.ErrFlashItemNotFound):
		writeJSON(w, http.StatusNotFound, Response{Code: http.StatusNotFound, Message: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, Response{Code: http.StatusInternalServerError, Message: err.Error()})
	case report.HasFailures():
		writeJSON(w, http.StatusMultiStatus, Response{Code: http.StatusMultiStatus, Message: "Some SKUs failed to warm up", Data: report})
	default:
		writeJSON(w, http.StatusOK, Response{Code: http.StatusOK, Message: "OK", Data: report})
	}
}

// statusFor 将拒绝原因映射为 HTTP 状态码
func statusFor(reason domain.RejectReason) int {
	switch reason {
	case domain.ReasonInvalidRequest, domain.ReasonOverQuantity:
		return http.StatusBadRequest
	case domain.ReasonSoldOut, domain.ReasonSaleEnded, domain.ReasonAlreadyPurchased:
		return http.StatusForbidden // 请求有效，但业务上拒绝
	default:
		return http.StatusServiceUnavailable
	}
}

func writeReject(w http.ResponseWriter, status int, reason domain.RejectReason) {
	if reason.Retryable() {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, Response{
		Code:    status,
		Message: reason.Message(),
		Data:    SeckillData{Status: domain.ResultFailed, Reason: reason},
	})
}

func writeJSON(w http.ResponseWriter, status int, resp Response) {
	resp.Timestamp = time.Now().UnixMilli()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
