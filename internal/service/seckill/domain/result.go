package domain

// ResultStatus 是前端轮询看到的处理状态
type ResultStatus string

const (
	ResultQueued  ResultStatus = "QUEUED"
	ResultSuccess ResultStatus = "SUCCESS"
	ResultFailed  ResultStatus = "FAILED"
)

// FailureCompensated 表示下单意图已被补偿回滚，不会再生成订单
const FailureCompensated = "COMPENSATED"

type PurchaseResult struct {
	Status  ResultStatus `json:"status"`
	OrderID string       `json:"orderId,omitempty"`
	Reason  string       `json:"reason,omitempty"`
}
