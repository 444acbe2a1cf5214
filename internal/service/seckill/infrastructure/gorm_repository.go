package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"flashbuy/internal/service/seckill/domain"
)

// GormOrderRepository 是 domain.OrderRepository 的 GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// CreateIfAbsent 以 INSERT ... ON DUPLICATE KEY 方式写入，重复投递时不报错而是返回已有订单。
func (r *GormOrderRepository) CreateIfAbsent(ctx context.Context, order *domain.Order) (*domain.Order, bool, error) {
	model := FromDomainOrder(order)
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(model)
	if res.Error != nil {
		return nil, false, errors.Wrapf(res.Error, "insert order %s", order.IdempotencyKey)
	}
	if res.RowsAffected == 1 {
		return order, true, nil
	}

	existing, err := r.FindByIdempotencyKey(ctx, order.IdempotencyKey)
	if err != nil {
		return nil, false, errors.WithMessage(err, "load order after conflict")
	}
	return existing, false, nil
}

func (r *GormOrderRepository) FindByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	var model TradeOrderModel
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "find order %s", key)
	}
	return ToDomainOrder(&model), nil
}

// GormFlashItemRepository 是活动目录的 GORM 实现
type GormFlashItemRepository struct {
	db *gorm.DB
}

func NewGormFlashItemRepository(db *gorm.DB) *GormFlashItemRepository {
	return &GormFlashItemRepository{db: db}
}

func (r *GormFlashItemRepository) FindByEventAndSku(ctx context.Context, eventID, skuID int64) (*domain.FlashItem, error) {
	var model FlashItemModel
	err := r.db.WithContext(ctx).Where("event_id = ? AND sku_id = ?", eventID, skuID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrFlashItemNotFound
		}
		return nil, errors.Wrapf(err, "find flash item event=%d sku=%d", eventID, skuID)
	}
	return ToDomainFlashItem(&model), nil
}

func (r *GormFlashItemRepository) ListByEvent(ctx context.Context, eventID int64) ([]*domain.FlashItem, error) {
	var models []*FlashItemModel
	if err := r.db.WithContext(ctx).Where("event_id = ?", eventID).Order("sku_id").Find(&models).Error; err != nil {
		return nil, errors.Wrapf(err, "list flash items of event %d", eventID)
	}
	return toDomainFlashItems(models), nil
}

func (r *GormFlashItemRepository) ListEndedBefore(ctx context.Context, t time.Time, limit int) ([]*domain.FlashItem, error) {
	var models []*FlashItemModel
	err := r.db.WithContext(ctx).
		Where("end_time < ? AND torn_down_at IS NULL", t).
		Order("end_time").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list ended flash items")
	}
	return toDomainFlashItems(models), nil
}

func (r *GormFlashItemRepository) MarkTornDown(ctx context.Context, id uint, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&FlashItemModel{}).Where("id = ?", id).Update("torn_down_at", at).Error
	return errors.Wrapf(err, "mark flash item %d torn down", id)
}

func toDomainFlashItems(models []*FlashItemModel) []*domain.FlashItem {
	items := make([]*domain.FlashItem, len(models))
	for i, m := range models {
		items[i] = ToDomainFlashItem(m)
	}
	return items
}

// GormDeadLetterRepository 持久化死信记录
type GormDeadLetterRepository struct {
	db *gorm.DB
}

func NewGormDeadLetterRepository(db *gorm.DB) *GormDeadLetterRepository {
	return &GormDeadLetterRepository{db: db}
}

func (r *GormDeadLetterRepository) Save(ctx context.Context, letter *domain.DeadLetter) error {
	err := r.db.WithContext(ctx).Create(FromDomainDeadLetter(letter)).Error
	return errors.Wrapf(err, "save dead letter %s", letter.IdempotencyKey)
}
