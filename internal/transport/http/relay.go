package httptransport

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"contactrelay/backend/internal/config"
	"contactrelay/backend/internal/domain"
	"contactrelay/backend/internal/middleware"
	"contactrelay/backend/internal/service"
)

// RelayHandler 承载联系表单页面：GET 渲染表单，POST 处理提交。
type RelayHandler struct {
	relay  *service.RelayService
	cfg    *config.Config
	logger *zap.Logger
}

// NewRelayHandler 创建联系表单处理器。
func NewRelayHandler(relay *service.RelayService, cfg *config.Config, logger *zap.Logger) *RelayHandler {
	return &RelayHandler{relay: relay, cfg: cfg, logger: logger}
}

// Show 处理表单页 GET 访问
func (h *RelayHandler) Show(c *gin.Context) {
	id, hasID := parseContactID(c)
	visitor := middleware.VisitorFrom(c)
	page := h.relay.Begin(id, hasID, visitor)
	h.render(c, page)
}

// Submit 处理表单提交。未携带主题字段的 POST 按首次访问处理。
func (h *RelayHandler) Submit(c *gin.Context) {
	id, hasID := parseContactID(c)
	visitor := middleware.VisitorFrom(c)

	if _, present := c.GetPostForm("messageSubject"); !present {
		h.render(c, h.relay.Begin(id, hasID, visitor))
		return
	}

	membership, membershipPresent := c.GetPostForm("u3amember")
	_, sendCopy := c.GetPostForm("sendCopy")

	sub := &domain.RelaySubmission{
		Subject:           c.PostForm("messageSubject"),
		Text:              c.PostForm("messageText"),
		ReturnName:        c.PostForm("returnName"),
		ReturnEmail:       c.PostForm("returnEmail"),
		Phone:             c.PostForm("phoneNumber"),
		Nonce:             c.PostForm("nonce"),
		MQCanary:          c.PostForm("u3aMQDetect"),
		SendCopy:          sendCopy,
		Membership:        membership,
		MembershipPresent: membershipPresent,
	}

	page := h.relay.Submit(id, hasID, sub, visitor)
	h.render(c, page)
}

func parseContactID(c *gin.Context) (int64, bool) {
	raw := c.Query("contact_id")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		// 无法解析的 id 等同于链接已失效
		return -1, true
	}
	return id, true
}

// render 把状态机输出转成 HTML 页面
func (h *RelayHandler) render(c *gin.Context, page *service.Page) {
	var name string
	data := map[string]interface{}{
		"Site": h.cfg.Contact.SiteName,
	}

	switch page.State {
	case service.StateDirectAccess:
		name = "direct"
	case service.StateAlreadySent:
		name = "alreadySent"
	case service.StateLinkExpired:
		name = "expired"
		data["SourceURL"] = page.SourceURL
		data["MaxAgeMinutes"] = int(h.cfg.Contact.LinkMaxAge.Minutes())
	case service.StateInvalidLink:
		name = "invalid"
		data["SourceURL"] = page.SourceURL
	case service.StateForm:
		name = "form"
		data["Form"] = page.Form
		data["Canary"] = domain.MQCanaryValue
	case service.StateResult:
		name = "result"
		data["Message"] = resultMessage(page.Result)
	default:
		h.logger.Error("未知的页面状态", zap.Int("state", int(page.State)))
		c.String(http.StatusInternalServerError, "internal error")
		return
	}

	var buf bytes.Buffer
	if err := pageTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		h.logger.Error("渲染页面失败", zap.String("template", name), zap.Error(err))
		c.String(http.StatusInternalServerError, "internal error")
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func resultMessage(result service.SendResult) string {
	switch result {
	case service.SendOK:
		return "Message sent successfully."
	case service.SendOKWithCopy:
		return "Messages sent successfully."
	case service.SendOKCopyFailed:
		return "Sorry there was a problem sending you a message copy. The message to the recipient was sent successfully."
	default:
		return "Sorry there was a problem sending your message. Please try again later."
	}
}

var pageTemplates = template.Must(template.New("pages").Parse(`
{{define "header"}}<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>{{.Site}}</title>
</head>
<body>
{{end}}

{{define "footer"}}
</body>
</html>{{end}}

{{define "direct"}}{{template "header" .}}<p>You appear to have come directly to this page. To work correctly, you need to use this page via specially-constructed links on this web site.</p>
<p>This technique ensures that spammers cannot use a link copied from this site to repeatedly email people.</p>
{{template "footer" .}}{{end}}

{{define "alreadySent"}}{{template "header" .}}<p>You appear to have already sent your message.</p>
<p>If you need to send another message please use the website menu to revisit the page which contained the contact link.<br>
Do not try using your browser back-button as this will not work.</p>
{{template "footer" .}}{{end}}

{{define "expired"}}{{template "header" .}}<p>Sorry, the link you used is more than {{.MaxAgeMinutes}} minutes old.
<a href="{{.SourceURL}}">Click here </a> and try again.</p>
{{template "footer" .}}{{end}}

{{define "invalid"}}{{template "header" .}}<p>Sorry, the link you used is not valid.
<a href="{{.SourceURL}}">Click here </a> and try again.</p>
{{template "footer" .}}{{end}}

{{define "result"}}{{template "header" .}}<p>{{.Message}}</p>
{{template "footer" .}}{{end}}

{{define "form"}}{{template "header" .}}{{with .Form}}{{if .Addressee}}<p>You can use the form below to send an email to {{.Addressee}}</p>
{{end}}{{if .ErrorMessage}}<p style="color: #f00; font-weight: bold;">{{.ErrorMessage}}</p>
{{end}}<form id="mailContact" method="post">
  <input type="hidden" id="nonce" name="nonce" value="{{.Nonce}}"/>
  <input type="hidden" name="u3aMQDetect" value="{{$.Canary}}"/>
  <div id="show-contact" class="contactform">
    <div>
    <label for="returnName">Your name: </label>
    <input type="text" name="returnName" id="returnName" value="{{.ReturnName}}"/>
    </div>
    <div>
    <label for="returnEmail">Your email address: </label>
    <input type="email" name="returnEmail" id="returnEmail" value="{{.ReturnEmail}}"/>
    </div>
    <div>
    <label for="phoneNumber">Your phone number (optional): </label>
    <input type="text" name="phoneNumber" id="phoneNumber" value="{{.Phone}}"/>
    </div>
    <div>
    <label for="messageSubject">Message subject: </label>
    <input type="text" name="messageSubject" id="messageSubject" value="{{.Subject}}"/>
    </div>
    <div>
    <label for="messageText">Your message: </label>
    <textarea name="messageText" id="messageText" rows="10">{{.Text}}</textarea>
    </div>
    <div>
    <span>Are you a member? </span>
    <label><input type="radio" name="u3amember" value="yes"/> Yes</label>
    <label><input type="radio" name="u3amember" value="no"/> No</label>
    </div>
    {{if .ShowCopy}}<div><label for="sendCopy">Send me a copy: </label><input type="checkbox" name="sendCopy" id="sendCopy" value="sendCopy"/></div>
    {{end}}<p class="hasSubmit"><button id="submitButton" name="sendEmail" type="submit">Send your email</button></p>
  </div>
</form>
<script type="text/javascript">
document.forms["mailContact"].elements["returnName"].focus();
</script>
{{end}}{{template "footer" .}}{{end}}
`))
