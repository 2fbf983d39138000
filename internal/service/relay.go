package service

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	"contactrelay/backend/internal/config"
	"contactrelay/backend/internal/domain"
	"contactrelay/backend/internal/mailer"
	"contactrelay/backend/internal/monitoring"
	"contactrelay/backend/internal/storage"
)

// PageState 标识转发页面处于状态机的哪个节点
type PageState int

const (
	// StateDirectAccess 未携带 contact_id 直接访问页面
	StateDirectAccess PageState = iota
	// StateAlreadySent 实例已被使用或已不存在
	StateAlreadySent
	// StateLinkExpired 链接超出新鲜度窗口
	StateLinkExpired
	// StateInvalidLink 提交携带的校验串与实例不符
	StateInvalidLink
	// StateForm 渲染（或带错误重新渲染）表单
	StateForm
	// StateResult 提交已处理完毕，展示结果文字
	StateResult
)

// SendResult 标识一次提交的投递结果
type SendResult int

const (
	// SendOK 主邮件发送成功，未请求副本
	SendOK SendResult = iota
	// SendOKWithCopy 主邮件与访客副本都发送成功
	SendOKWithCopy
	// SendOKCopyFailed 主邮件发送成功但副本发送失败
	SendOKCopyFailed
	// SendFailed 主邮件发送失败，实例已退回可重试
	SendFailed
)

// Visitor 已识别的站点访客，用于表单预填和副本资格判断
type Visitor struct {
	Name  string
	Email string
}

// FormView 表单渲染所需的全部数据
type FormView struct {
	ContactID    int64
	Addressee    string
	Nonce        string
	Subject      string
	Text         string
	ReturnName   string
	ReturnEmail  string
	Phone        string
	ErrorMessage string
	ShowCopy     bool
}

// Page 状态机单步执行的输出
type Page struct {
	State     PageState
	Form      *FormView
	SourceURL string
	Result    SendResult
}

// RelayService 执行消息转发协议：解析链接、校验表单、
// 占用实例、外发邮件并记录审计日志。
type RelayService struct {
	contacts *ContactService
	logs     storage.DeliveryLogRepository
	mail     mailer.Mailer
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// NewRelayService 创建消息转发服务。
func NewRelayService(
	contacts *ContactService,
	logs storage.DeliveryLogRepository,
	mail mailer.Mailer,
	cfg *config.Config,
	logger *zap.Logger,
	metrics *monitoring.Metrics,
) *RelayService {
	return &RelayService{
		contacts: contacts,
		logs:     logs,
		mail:     mail,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// Begin 处理对表单页的 GET 访问。
func (s *RelayService) Begin(contactID int64, hasID bool, visitor *Visitor) *Page {
	contact, page := s.resolve(contactID, hasID)
	if page != nil {
		return page
	}

	form := &FormView{
		ContactID: contact.ID,
		Addressee: contact.Addressee,
		Nonce:     contact.Nonce,
		ShowCopy:  visitor != nil,
	}
	if visitor != nil {
		form.ReturnName = visitor.Name
		form.ReturnEmail = visitor.Email
	}
	return &Page{State: StateForm, Form: form}
}

// Submit 处理表单提交。
//
// 校验通过后先原子占用实例再发信，发送失败时把实例退回，
// 并发的重复提交里恰好一个会走到发信。
func (s *RelayService) Submit(contactID int64, hasID bool, sub *domain.RelaySubmission, visitor *Visitor) *Page {
	contact, page := s.resolve(contactID, hasID)
	if page != nil {
		return page
	}

	if sub.Nonce == "" || sub.Nonce != contact.Nonce {
		return &Page{State: StateInvalidLink, SourceURL: contact.SourceURL}
	}

	sub.NormalizeQuoting()
	if err := sub.Validate(); err != nil {
		form := &FormView{
			ContactID:    contact.ID,
			Addressee:    contact.Addressee,
			Nonce:        contact.Nonce,
			Subject:      sub.Subject,
			Text:         sub.Text,
			ReturnName:   sub.ReturnName,
			ReturnEmail:  sub.ReturnEmail,
			Phone:        sub.Phone,
			ErrorMessage: err.Error(),
			ShowCopy:     visitor != nil,
		}
		return &Page{State: StateForm, Form: form}
	}

	consumed, err := s.contacts.Consume(contact.ID, sub.Nonce)
	switch {
	case errors.Is(err, storage.ErrAlreadyConsumed), errors.Is(err, storage.ErrContactNotFound):
		return &Page{State: StateAlreadySent}
	case errors.Is(err, storage.ErrNonceMismatch):
		return &Page{State: StateInvalidLink, SourceURL: contact.SourceURL}
	case err != nil:
		s.logger.Error("占用联系实例失败", zap.Int64("contactId", contact.ID), zap.Error(err))
		return &Page{State: StateResult, Result: SendFailed}
	}
	if s.metrics != nil {
		s.metrics.ContactsConsumed.Inc()
	}

	return s.deliver(consumed, sub, visitor)
}

// resolve 把 contact_id 解析成可用实例，返回非空 Page 表示流程终止。
func (s *RelayService) resolve(contactID int64, hasID bool) (*domain.ContactInstance, *Page) {
	if !hasID {
		return nil, &Page{State: StateDirectAccess}
	}

	contact, err := s.contacts.Get(contactID)
	if err != nil {
		if !errors.Is(err, storage.ErrContactNotFound) {
			s.logger.Error("读取联系实例失败", zap.Int64("contactId", contactID), zap.Error(err))
		}
		return nil, &Page{State: StateAlreadySent}
	}
	if contact.Status != domain.StatusPending {
		return nil, &Page{State: StateAlreadySent}
	}
	if !s.contacts.LinkFresh(contact) {
		return nil, &Page{State: StateLinkExpired, SourceURL: contact.SourceURL}
	}
	return contact, nil
}

// deliver 执行实际投递：主邮件、审计日志、可选副本。
func (s *RelayService) deliver(contact *domain.ContactInstance, sub *domain.RelaySubmission, visitor *Visitor) *Page {
	site := s.cfg.Contact.SiteName
	fromName := sub.ReturnName + " via " + site
	primaryBody := composePrimaryBody(site, contact.Addressee, sub)
	copyBody := composeCopyBody(site, contact.Addressee, sub)

	wantCopy := s.copyEligible(sub, visitor)
	blocked := contact.IsBlocked()

	if !blocked {
		err := s.mail.Send(&mailer.Message{
			FromName:   fromName,
			ToName:     contact.Addressee,
			ToEmail:    contact.Email,
			ReplyName:  sub.ReturnName,
			ReplyEmail: sub.ReturnEmail,
			Subject:    sub.Subject,
			HTMLBody:   primaryBody,
		})
		if err != nil {
			// 发送失败，把实例退回待使用，访客可以稍后重试
			s.logger.Error("转发邮件发送失败", zap.Int64("contactId", contact.ID), zap.Error(err))
			if relErr := s.contacts.Release(contact.ID); relErr != nil {
				s.logger.Error("退回联系实例失败", zap.Int64("contactId", contact.ID), zap.Error(relErr))
			}
			if s.metrics != nil {
				s.metrics.RelaysFailed.Inc()
			}
			return &Page{State: StateResult, Result: SendFailed}
		}
		if s.metrics != nil {
			s.metrics.RelaysSent.Inc()
		}
	} else {
		// 被屏蔽的实例不真正外发，对访客仍呈现为成功
		if s.metrics != nil {
			s.metrics.RelaysBlocked.Inc()
		}
	}

	copyToUser := "n"
	if wantCopy {
		copyToUser = "y"
	}
	entry := &domain.DeliveryLogEntry{
		ToName:     contact.Addressee,
		ToEmail:    contact.Email,
		ReplyName:  sub.ReturnName,
		ReplyEmail: sub.ReturnEmail,
		Subject:    domain.TruncateSubject(sub.Subject),
		Blocked:    contact.Blocked,
		Membership: sub.MembershipCode(),
		CopyToUser: copyToUser,
	}
	if err := s.logs.AppendDeliveryLog(entry); err != nil {
		// 邮件已经发出，审计失败只记录不回滚
		s.logger.Error("写入投递日志失败", zap.Int64("contactId", contact.ID), zap.Error(err))
	}

	if !wantCopy {
		return &Page{State: StateResult, Result: SendOK}
	}

	if blocked {
		return &Page{State: StateResult, Result: SendOKWithCopy}
	}

	err := s.mail.Send(&mailer.Message{
		FromName: fromName,
		ToName:   sub.ReturnName,
		ToEmail:  sub.ReturnEmail,
		Subject:  sub.Subject,
		HTMLBody: copyBody,
	})
	if err != nil {
		s.logger.Warn("访客副本发送失败", zap.Int64("contactId", contact.ID), zap.Error(err))
		if s.metrics != nil {
			s.metrics.CopiesFailed.Inc()
		}
		return &Page{State: StateResult, Result: SendOKCopyFailed}
	}
	if s.metrics != nil {
		s.metrics.CopiesSent.Inc()
	}
	return &Page{State: StateResult, Result: SendOKWithCopy}
}

// copyEligible 判断提交者是否有资格收到副本：
// 必须是已识别访客，且填写的回信地址与账号地址一致。
func (s *RelayService) copyEligible(sub *domain.RelaySubmission, visitor *Visitor) bool {
	if visitor == nil || !sub.SendCopy {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(visitor.Email), strings.TrimSpace(sub.ReturnEmail))
}

const separatorLine = "\n\n<div style=\"height: 10px; border-top: 1px dotted #444;\"></div>"

// composePrimaryBody 组装发给收件人的邮件主体
func composePrimaryBody(site, addressee string, sub *domain.RelaySubmission) string {
	reply := html.EscapeString(sub.ReturnEmail)
	if strings.TrimSpace(sub.Phone) != "" {
		reply += ", phone: " + html.EscapeString(sub.Phone)
	}
	prefix := fmt.Sprintf(
		"<p>The following message was sent via the %s web site. It was addressed to %s. Please reply to %s ( %s ).%s",
		html.EscapeString(site),
		html.EscapeString(addressee),
		html.EscapeString(sub.ReturnName),
		reply,
		separatorLine,
	)
	return prefix + messageHTML(sub.Text)
}

// composeCopyBody 组装发回给访客的副本主体
func composeCopyBody(site, addressee string, sub *domain.RelaySubmission) string {
	prefix := fmt.Sprintf(
		"<p>This is a copy of your message sent to %s via the %s web site.%s",
		html.EscapeString(addressee),
		html.EscapeString(site),
		separatorLine,
	)
	return prefix + messageHTML(sub.Text)
}

// messageHTML 把正文转成 HTML 段落，换行转为 <br/>
func messageHTML(text string) string {
	escaped := html.EscapeString(strings.ReplaceAll(text, "\r\n", "\n"))
	return "<p>" + strings.ReplaceAll(escaped, "\n", "<br/>") + "</p>"
}
