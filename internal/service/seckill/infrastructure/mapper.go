package infrastructure

import (
	"database/sql"

	"flashbuy/internal/service/seckill/domain"
)

// ToDomainFlashItem 将数据库模型转换为领域模型
func ToDomainFlashItem(model *FlashItemModel) *domain.FlashItem {
	if model == nil {
		return nil
	}
	item := &domain.FlashItem{
		ID:           model.ID,
		EventID:      model.EventID,
		SkuID:        model.SkuID,
		FlashPrice:   model.FlashPrice,
		FlashStock:   model.FlashStock,
		LimitPerUser: model.LimitPerUser,
		StartTime:    model.StartTime,
		EndTime:      model.EndTime,
	}
	if model.TornDownAt.Valid {
		t := model.TornDownAt.Time
		item.TornDownAt = &t
	}
	return item
}

func FromDomainFlashItem(item *domain.FlashItem) *FlashItemModel {
	if item == nil {
		return nil
	}
	model := &FlashItemModel{
		EventID:      item.EventID,
		SkuID:        item.SkuID,
		FlashPrice:   item.FlashPrice,
		FlashStock:   item.FlashStock,
		LimitPerUser: item.LimitPerUser,
		StartTime:    item.StartTime,
		EndTime:      item.EndTime,
	}
	model.ID = item.ID
	if item.TornDownAt != nil {
		model.TornDownAt = sql.NullTime{Time: *item.TornDownAt, Valid: true}
	}
	return model
}

func ToDomainOrder(model *TradeOrderModel) *domain.Order {
	if model == nil {
		return nil
	}
	return &domain.Order{
		ID:             model.ID,
		IdempotencyKey: model.IdempotencyKey,
		RequestID:      model.RequestID,
		UserID:         model.UserID,
		EventID:        model.EventID,
		SkuID:          model.SkuID,
		Quantity:       model.Quantity,
		TotalAmount:    model.TotalAmount,
		PayAmount:      model.PayAmount,
		State:          domain.State(model.State),
		OrderType:      model.OrderType,
		AcceptedAt:     model.AcceptedAt,
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}
}

func FromDomainOrder(order *domain.Order) *TradeOrderModel {
	if order == nil {
		return nil
	}
	return &TradeOrderModel{
		ID:             order.ID,
		IdempotencyKey: order.IdempotencyKey,
		RequestID:      order.RequestID,
		UserID:         order.UserID,
		EventID:        order.EventID,
		SkuID:          order.SkuID,
		Quantity:       order.Quantity,
		TotalAmount:    order.TotalAmount,
		PayAmount:      order.PayAmount,
		State:          string(order.State),
		OrderType:      order.OrderType,
		AcceptedAt:     order.AcceptedAt,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
}

func FromDomainDeadLetter(letter *domain.DeadLetter) *DeadLetterModel {
	return &DeadLetterModel{
		IdempotencyKey:    letter.IdempotencyKey,
		RequestID:         letter.RequestID,
		OriginalTopic:     letter.OriginalTopic,
		OriginalPartition: letter.OriginalPartition,
		OriginalOffset:    letter.OriginalOffset,
		ErrorType:         letter.ErrorType,
		ErrorMessage:      letter.ErrorMessage,
		Payload:           letter.Payload,
		ReceivedAt:        letter.ReceivedAt,
	}
}
