package application

import (
	"errors"
	"fmt"
)

// ErrPermanent 标记重试也无法成功的失败（消息无法解析、活动商品不存在等），这类消息直接进入死信。
var ErrPermanent = errors.New("permanent failure")

func permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// IsPermanent 供消费端的 FailureHandler 判断是否跳过重试主题
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
