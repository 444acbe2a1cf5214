// internal/service/seckill/domain/admission.go
package domain

// RejectReason 是准入被拒绝的业务原因。
// 售罄、重复购买是高峰期最常见的结果，用值而不是 error 表达。
type RejectReason string

const (
	ReasonSaleEnded        RejectReason = "SALE_ENDED"
	ReasonSoldOut          RejectReason = "SOLD_OUT"
	ReasonAlreadyPurchased RejectReason = "ALREADY_PURCHASED"
	ReasonOverQuantity     RejectReason = "OVER_QUANTITY"
	ReasonInvalidRequest   RejectReason = "INVALID_REQUEST"
	ReasonSystemBusy       RejectReason = "SYSTEM_BUSY"
)

var reasonMessages = map[RejectReason]string{
	ReasonSaleEnded:        "Flash sale ended",
	ReasonSoldOut:          "Insufficient stock",
	ReasonAlreadyPurchased: "You have already purchased this item",
	ReasonOverQuantity:     "Quantity exceeds the per-order limit",
	ReasonInvalidRequest:   "Invalid request",
	ReasonSystemBusy:       "System busy, please try again",
}

func (r RejectReason) Message() string {
	if msg, ok := reasonMessages[r]; ok {
		return msg
	}
	return "Flash sale failed"
}

// Retryable 只有基础设施故障导致的拒绝才值得客户端重试
func (r RejectReason) Retryable() bool {
	return r == ReasonSystemBusy
}
