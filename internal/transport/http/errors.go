package httptransport

import (
	"contactrelay/backend/internal/service"
	"contactrelay/backend/internal/storage"
)

// 错误消息映射表（业务错误 -> 中文消息）
var errorMessages = map[error]string{
	service.ErrAddresseeRequired: "缺少收件人称呼",
	service.ErrEmailRequired:     "缺少收件人邮箱",
	service.ErrEmailInvalid:      "收件人邮箱格式无效",

	storage.ErrContactNotFound: "联系实例不存在",
	storage.ErrAlreadyConsumed: "联系实例已被使用",
	storage.ErrNonceMismatch:   "链接校验串不符",
}

// GetErrorMessage 获取错误的中文消息
func GetErrorMessage(err error) string {
	if msg, ok := errorMessages[err]; ok {
		return msg
	}
	return err.Error()
}
