// internal/service/seckill/domain/state.go
package domain

// State 定义了秒杀订单的生命周期状态。
// 本服务只负责创建 AWAITING_PAYMENT 订单，之后的流转由订单/支付服务负责。
type State string

const (
	StateAwaitingPayment State = "AWAITING_PAYMENT"
	StatePaid            State = "PAID"
	StateCancelled       State = "CANCELLED"
)

// OrderTypeFlash 标记订单来源于秒杀
const OrderTypeFlash = "FLASH"
