package domain

import (
	"errors"
	"net/mail"
	"strings"
)

// 表单校验失败时展示给访客的提示文字。
// 这些文案是对外契约的一部分，修改前需要确认页面联调方。
var (
	ErrSubjectRequired     = errors.New("You must enter a subject for your email")
	ErrTextRequired        = errors.New("You must enter some text for your email")
	ErrReturnNameRequired  = errors.New("You must enter your name so your recipient(s) can get back to you")
	ErrReturnEmailRequired = errors.New("You must enter your email address so your recipient(s) can get back to you")
	ErrReturnEmailInvalid  = errors.New("The email address you entered does not seem to be valid")
)

// MaxEmailLength RFC 5322 邮箱地址最大长度
const MaxEmailLength = 254

// MQCanaryValue 魔术引号探测字段的原始值。
// 某些上游代理会给引号补反斜杠，提交时该字段变长则说明需要还原。
const MQCanaryValue = `test'"`

// RelaySubmission 表示访客提交的整个表单内容
type RelaySubmission struct {
	Subject           string
	Text              string
	ReturnName        string
	ReturnEmail       string
	Phone             string // 可选，不参与校验
	Nonce             string
	MQCanary          string
	SendCopy          bool
	Membership        string
	MembershipPresent bool
}

// NormalizeQuoting 根据探测字段还原被转义的引号。
// 提交的探测值比原始值长，说明链路上加过反斜杠。
func (s *RelaySubmission) NormalizeQuoting() {
	if len(s.MQCanary) > len(MQCanaryValue) {
		s.Subject = StripSlashes(s.Subject)
		s.Text = StripSlashes(s.Text)
	}
}

// Validate 按固定顺序校验表单，返回第一个失败项的提示。
// 顺序本身是对外契约：主题、正文、姓名、邮箱是否填写、邮箱格式。
func (s *RelaySubmission) Validate() error {
	if strings.TrimSpace(s.Subject) == "" {
		return ErrSubjectRequired
	}
	if strings.TrimSpace(s.Text) == "" {
		return ErrTextRequired
	}
	if strings.TrimSpace(s.ReturnName) == "" {
		return ErrReturnNameRequired
	}
	if strings.TrimSpace(s.ReturnEmail) == "" {
		return ErrReturnEmailRequired
	}
	if err := ValidateEmailAddress(s.ReturnEmail); err != nil {
		return ErrReturnEmailInvalid
	}
	return nil
}

// MembershipCode 返回该次提交的会员身份代码
func (s *RelaySubmission) MembershipCode() string {
	return MembershipCode(s.Membership, s.MembershipPresent)
}

// ValidateEmailAddress 校验一个裸邮箱地址（不带显示名）
func ValidateEmailAddress(email string) error {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > MaxEmailLength {
		return ErrReturnEmailInvalid
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrReturnEmailInvalid
	}

	// 域名部分必须带点，拒绝裸主机名
	at := strings.LastIndex(email, "@")
	if at < 0 || !strings.Contains(email[at+1:], ".") {
		return ErrReturnEmailInvalid
	}
	return nil
}

// StripSlashes 去掉转义用的反斜杠，连续两个反斜杠还原为一个
func StripSlashes(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	escaped := false
	for _, r := range s {
		if !escaped && r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
		escaped = false
	}
	return b.String()
}
