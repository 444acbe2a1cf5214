package application

import "flashbuy/internal/service/seckill/domain"

// SeckillRequest 是秒杀准入用例的输入数据
type SeckillRequest struct {
	EventID  int64 `json:"eventId"`
	SkuID    int64 `json:"skuId"`
	Quantity int   `json:"quantity"`
	UserID   int64 `json:"userId"`
}

// AdmissionResult 是准入的结果：要么进入排队并拿到轮询凭证，要么带着拒绝原因返回。
type AdmissionResult struct {
	Queued  bool
	QueueID string
	Reason  domain.RejectReason
}

func queued(token string) AdmissionResult {
	return AdmissionResult{Queued: true, QueueID: token}
}

func rejected(reason domain.RejectReason) AdmissionResult {
	return AdmissionResult{Reason: reason}
}

// Outcome 用于日志和指标
func (r AdmissionResult) Outcome() string {
	if r.Queued {
		return string(domain.ResultQueued)
	}
	return string(r.Reason)
}

// WarmUpRequest 是单个 SKU 预热的输入，库存按活动隔离，所以必须带活动 ID
type WarmUpRequest struct {
	EventID int64 `json:"eventId"`
	SkuID   int64 `json:"skuId"`
	Stock int64 `json:"stock"`
}

// WarmUpReport 汇总一次整场活动预热的结果，单个 SKU 失败不会中断其它 SKU
type WarmUpReport struct {
	EventID   int64            `json:"eventId"`
	Succeeded []int64          `json:"succeeded"`
	Failed    map[int64]string `json:"failed,omitempty"`
}

func (r *WarmUpReport) HasFailures() bool {
	return len(r.Failed) > 0
}
