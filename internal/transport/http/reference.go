package httptransport

import (
	"errors"
	"fmt"
	"html"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"contactrelay/backend/internal/service"
)

// ReferenceHandler 把页面引用换成指向联系表单的安全链接。
type ReferenceHandler struct {
	contacts *service.ContactService
	logger   *zap.Logger
}

// NewReferenceHandler 创建引用渲染处理器。
func NewReferenceHandler(contacts *service.ContactService, logger *zap.Logger) *ReferenceHandler {
	return &ReferenceHandler{contacts: contacts, logger: logger}
}

// ReferenceRequest 引用渲染请求
type ReferenceRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	SourceURL string `json:"sourceUrl"`
	OneShot   bool   `json:"oneShot"` // 为真时跳过去重，总是铸造新实例
}

// ReferenceResponse 引用渲染结果。
// 校验失败时 ContactID 为零，HTML 为可直接内嵌的错误提示。
type ReferenceResponse struct {
	ContactID int64  `json:"contactId,omitempty"`
	URL       string `json:"url,omitempty"`
	HTML      string `json:"html"`
}

// 引用校验失败时嵌回页面的提示文字
const (
	errNoAddressee   = "The contact reference does not have an addressee parameter"
	errNoEmail       = "The contact reference does not have an email parameter"
	errInvalidEmail  = "The email address in the contact reference appears invalid"
	errMarkupPattern = `<p style="color: #f00; font-weight: bold;">%s</p>`
)

// Render 处理 POST /v1/references
func (h *ReferenceHandler) Render(c *gin.Context) {
	var req ReferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求体格式错误")
		return
	}

	create := h.contacts.FindOrCreate
	if req.OneShot {
		create = h.contacts.Create
	}

	instance, err := create(req.Name, req.Email, req.SourceURL)
	if err != nil {
		if markup, ok := inlineErrorMarkup(err); ok {
			Success(c, ReferenceResponse{HTML: markup})
			return
		}
		h.logger.Error("铸造联系实例失败", zap.Error(err))
		InternalError(c, "无法创建联系实例")
		return
	}

	url := h.contacts.ContactURL(instance.ID)
	safeName := html.EscapeString(instance.Addressee)
	link := fmt.Sprintf("<a title='Opens message form' href='%s'>%s</a>", url, safeName)

	Created(c, ReferenceResponse{
		ContactID: instance.ID,
		URL:       url,
		HTML:      link,
	})
}

// inlineErrorMarkup 把引用校验错误转成可内嵌的提示
func inlineErrorMarkup(err error) (string, bool) {
	switch {
	case errors.Is(err, service.ErrAddresseeRequired):
		return fmt.Sprintf(errMarkupPattern, errNoAddressee), true
	case errors.Is(err, service.ErrEmailRequired):
		return fmt.Sprintf(errMarkupPattern, errNoEmail), true
	case errors.Is(err, service.ErrEmailInvalid):
		return fmt.Sprintf(errMarkupPattern, errInvalidEmail), true
	default:
		return "", false
	}
}
