package infrastructure

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// FlashItemModel 对应数据库中的 flash_item 表（活动目录）
type FlashItemModel struct {
	gorm.Model
	EventID      int64           `gorm:"uniqueIndex:uk_event_sku"`
	SkuID        int64           `gorm:"uniqueIndex:uk_event_sku"`
	FlashPrice   decimal.Decimal `gorm:"type:decimal(10,2)"`
	FlashStock   int64
	LimitPerUser int `gorm:"default:1"`
	StartTime    time.Time
	EndTime      time.Time `gorm:"index"`
	TornDownAt   sql.NullTime
}

// TableName 指定 GORM 应该使用的表名
func (FlashItemModel) TableName() string {
	return "flash_item"
}

// TradeOrderModel 对应 trade_order 表。
// ID 由雪花算法生成，不使用自增；idempotency_key 上的唯一索引是重复投递的最后防线。
type TradeOrderModel struct {
	ID             int64           `gorm:"primaryKey;autoIncrement:false"`
	IdempotencyKey string          `gorm:"type:varchar(64);uniqueIndex"`
	RequestID      string          `gorm:"type:varchar(64);index"`
	UserID         int64           `gorm:"index"`
	EventID        int64
	SkuID          int64
	Quantity       int
	TotalAmount    decimal.Decimal `gorm:"type:decimal(12,2)"`
	PayAmount      decimal.Decimal `gorm:"type:decimal(12,2)"`
	State          string          `gorm:"type:varchar(32)"`
	OrderType      string          `gorm:"type:varchar(16)"`
	AcceptedAt     time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (TradeOrderModel) TableName() string {
	return "trade_order"
}

// DeadLetterModel 对应 seckill_dead_letter 表，供人工对账
type DeadLetterModel struct {
	gorm.Model
	IdempotencyKey    string `gorm:"type:varchar(64);index"`
	RequestID         string `gorm:"type:varchar(64)"`
	OriginalTopic     string
	OriginalPartition string
	OriginalOffset    string
	ErrorType         string
	ErrorMessage      string `gorm:"type:text"`
	Payload           []byte `gorm:"type:blob"`
	ReceivedAt        time.Time
	Resolved          bool `gorm:"default:false"`
}

func (DeadLetterModel) TableName() string {
	return "seckill_dead_letter"
}
