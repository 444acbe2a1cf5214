package domain

import "time"

// DeadLetter 记录一条耗尽重试的下单意图，等待人工对账。
// 它代表一份已经扣减、已经承诺给用户的库存，绝不能丢。
type DeadLetter struct {
	IdempotencyKey    string
	RequestID         string
	OriginalTopic     string
	OriginalPartition string
	OriginalOffset    string
	ErrorType         string
	ErrorMessage      string
	Payload           []byte
	ReceivedAt        time.Time
}
