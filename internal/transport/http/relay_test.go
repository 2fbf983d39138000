package httptransport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	jwtpkg "contactrelay/backend/internal/auth/jwt"
	"contactrelay/backend/internal/config"
	"contactrelay/backend/internal/domain"
	"contactrelay/backend/internal/mailer"
	"contactrelay/backend/internal/service"
	"contactrelay/backend/internal/storage/memory"
)

const testAdminKey = "test-admin-key"

// stubMailer 记录发送请求，可按收件人注入失败
type stubMailer struct {
	mu      sync.Mutex
	sent    []*mailer.Message
	failFor map[string]error
}

func (m *stubMailer) Send(msg *mailer.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failFor[msg.ToEmail]; ok {
		return err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *stubMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type routerFixture struct {
	router *gin.Engine
	mail   *stubMailer
	store  *memory.Store
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Contact: config.ContactConfig{
			SiteName:        "Example Community",
			BaseURL:         "https://example.org",
			PageSlug:        "contact",
			LinkMaxAge:      90 * time.Minute,
			StaleAfterDays:  1,
			LogRetainDays:   90,
			SweepInterval:   24 * time.Hour,
			DedupReferences: true,
		},
		CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
		Auth: config.AuthConfig{
			JWTSecret: "0123456789abcdef0123456789abcdef",
			JWTIssuer: "contactrelay-test",
			AdminKey:  testAdminKey,
		},
	}

	store := memory.NewStore()
	mail := &stubMailer{failFor: map[string]error{}}
	log := zap.NewNop()

	contacts := service.NewContactService(store, cfg)
	relay := service.NewRelayService(contacts, store, mail, cfg, log, nil)
	logs := service.NewDeliveryLogService(store, cfg)
	jwtManager := jwtpkg.NewManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, time.Hour)

	router := NewRouter(RouterDependencies{
		Config:         cfg,
		ContactService: contacts,
		RelayService:   relay,
		LogService:     logs,
		JWTManager:     jwtManager,
		Logger:         log,
	})

	return &routerFixture{router: router, mail: mail, store: store}
}

func (f *routerFixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// postJSON 构造 JSON 请求
func postJSON(t *testing.T, path string, body interface{}) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// renderReference 调用引用渲染接口并解出结果
func renderReference(t *testing.T, f *routerFixture, name, email, sourceURL string) (ReferenceResponse, int) {
	t.Helper()
	rec := f.do(t, postJSON(t, "/v1/references", ReferenceRequest{
		Name:      name,
		Email:     email,
		SourceURL: sourceURL,
	}))

	var resp struct {
		Code int               `json:"code"`
		Data ReferenceResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Data, rec.Code
}

var nonceAttr = regexp.MustCompile(`name="nonce" value="([0-9a-f]+)"`)

// fetchForm 打开联系链接并取出页面中的一次性令牌
func fetchForm(t *testing.T, f *routerFixture, contactURL string) (body, nonce string) {
	t.Helper()
	parsed, err := url.Parse(contactURL)
	require.NoError(t, err)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, parsed.Path+"?"+parsed.RawQuery, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body = rec.Body.String()
	match := nonceAttr.FindStringSubmatch(body)
	require.Len(t, match, 2, "form page must carry a nonce")
	return body, match[1]
}

func submissionForm(nonce string) url.Values {
	return url.Values{
		"nonce":          {nonce},
		"messageSubject": {"Walking group question"},
		"messageText":    {"When does the group next meet?"},
		"returnName":     {"Joe Bloggs"},
		"returnEmail":    {"joe@example.net"},
		"u3aMQDetect":    {domain.MQCanaryValue},
	}
}

func postForm(t *testing.T, f *routerFixture, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.do(t, req)
}

func TestRelayEndToEnd(t *testing.T) {
	f := newRouterFixture(t)

	ref, code := renderReference(t, f, "Freda Smith", "freda@example.com", "https://example.org/groups/walking")
	require.Equal(t, http.StatusCreated, code)
	require.NotZero(t, ref.ContactID)
	assert.Contains(t, ref.URL, "contact_id=")
	assert.Contains(t, ref.HTML, "Opens message form")
	assert.Contains(t, ref.HTML, "Freda Smith")
	assert.NotContains(t, ref.HTML, "freda@example.com", "收件邮箱不得出现在页面标记中")

	body, nonce := fetchForm(t, f, ref.URL)
	assert.Contains(t, body, "send an email to Freda Smith")
	assert.NotContains(t, body, "freda@example.com")

	rec := postForm(t, f, "/contact?contact_id="+idFromURL(t, ref.URL), submissionForm(nonce))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Message sent successfully.")

	require.Equal(t, 1, f.mail.count())
	msg := f.mail.sent[0]
	assert.Equal(t, "freda@example.com", msg.ToEmail)
	assert.Equal(t, "Freda Smith", msg.ToName)
	assert.Equal(t, "Joe Bloggs", msg.ReplyName)
	assert.Equal(t, "joe@example.net", msg.ReplyEmail)
	assert.Equal(t, "Walking group question", msg.Subject)
	assert.Contains(t, msg.HTMLBody, "Example Community")

	t.Run("重复提交按已发送处理", func(t *testing.T) {
		rec := postForm(t, f, "/contact?contact_id="+idFromURL(t, ref.URL), submissionForm(nonce))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "already sent your message")
		assert.Equal(t, 1, f.mail.count())
	})

	t.Run("投递日志记录了这次转发", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/log", nil)
		req.Header.Set("X-Admin-Key", testAdminKey)
		rec := f.do(t, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data struct {
				Entries []domain.DeliveryLogEntry `json:"entries"`
				Total   int                       `json:"total"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, 1, resp.Data.Total)
		entry := resp.Data.Entries[0]
		assert.Equal(t, "freda@example.com", entry.ToEmail)
		assert.Equal(t, "Joe Bloggs", entry.ReplyName)
		assert.Equal(t, "n", entry.Blocked)
	})
}

func idFromURL(t *testing.T, contactURL string) string {
	t.Helper()
	parsed, err := url.Parse(contactURL)
	require.NoError(t, err)
	id := parsed.Query().Get("contact_id")
	require.NotEmpty(t, id)
	return id
}

func TestRelayFormPageStates(t *testing.T) {
	f := newRouterFixture(t)

	t.Run("直接访问给出说明页", func(t *testing.T) {
		rec := f.do(t, httptest.NewRequest(http.MethodGet, "/contact", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "come directly to this page")
	})

	t.Run("无法解析的链接按已发送处理", func(t *testing.T) {
		rec := f.do(t, httptest.NewRequest(http.MethodGet, "/contact?contact_id=abc", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "already sent your message")
	})

	t.Run("校验失败重显表单并保留输入", func(t *testing.T) {
		ref, _ := renderReference(t, f, "Group Leader", "leader@example.com", "https://example.org/groups/chess")
		_, nonce := fetchForm(t, f, ref.URL)

		form := submissionForm(nonce)
		form.Set("messageSubject", "")
		rec := postForm(t, f, "/contact?contact_id="+idFromURL(t, ref.URL), form)
		require.Equal(t, http.StatusOK, rec.Code)
		body := rec.Body.String()
		assert.Contains(t, body, "You must enter a subject for your email")
		assert.Contains(t, body, "Joe Bloggs")
		assert.Contains(t, body, "When does the group next meet?")

		// 修正后仍可成功提交
		rec = postForm(t, f, "/contact?contact_id="+idFromURL(t, ref.URL), submissionForm(nonce))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "Message sent successfully.")
	})

	t.Run("令牌不符提示链接无效", func(t *testing.T) {
		ref, _ := renderReference(t, f, "Treasurer", "treasurer@example.com", "https://example.org/committee")
		_, _ = fetchForm(t, f, ref.URL)

		form := submissionForm(strings.Repeat("0", 32))
		rec := postForm(t, f, "/contact?contact_id="+idFromURL(t, ref.URL), form)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "the link you used is not valid")
		assert.Contains(t, rec.Body.String(), "https://example.org/committee")
	})

	t.Run("缺少主题字段的POST按首次访问渲染表单", func(t *testing.T) {
		ref, _ := renderReference(t, f, "Secretary", "secretary@example.com", "https://example.org/committee")
		rec := postForm(t, f, "/contact?contact_id="+idFromURL(t, ref.URL), url.Values{})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "send an email to Secretary")
	})
}

func TestReferenceValidationErrors(t *testing.T) {
	f := newRouterFixture(t)

	t.Run("缺少称呼返回内嵌提示", func(t *testing.T) {
		data, code := renderReference(t, f, "", "freda@example.com", "")
		require.Equal(t, http.StatusOK, code)
		assert.Zero(t, data.ContactID)
		assert.Contains(t, data.HTML, "does not have an addressee parameter")
	})

	t.Run("缺少邮箱返回内嵌提示", func(t *testing.T) {
		data, code := renderReference(t, f, "Freda Smith", "", "")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, data.HTML, "does not have an email parameter")
	})

	t.Run("邮箱无效返回内嵌提示", func(t *testing.T) {
		data, code := renderReference(t, f, "Freda Smith", "not-an-email", "")
		require.Equal(t, http.StatusOK, code)
		assert.Contains(t, data.HTML, "appears invalid")
	})
}

func TestAdminEndpoints(t *testing.T) {
	f := newRouterFixture(t)

	t.Run("缺少密钥拒绝访问", func(t *testing.T) {
		rec := f.do(t, httptest.NewRequest(http.MethodGet, "/v1/admin/log", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("错误密钥拒绝访问", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/log", nil)
		req.Header.Set("X-Admin-Key", "wrong")
		rec := f.do(t, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("日志汇总返回窗口统计", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/log/summary?days=30", nil)
		req.Header.Set("X-Admin-Key", testAdminKey)
		rec := f.do(t, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Data service.LogSummary `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, 30, resp.Data.Days)
		assert.Zero(t, resp.Data.Total)
	})
}

func TestVisitorTokenFlow(t *testing.T) {
	f := newRouterFixture(t)

	// 站点换取访客令牌
	req := postJSON(t, "/v1/admin/visitor-tokens", gin.H{
		"name":  "Joan Member",
		"email": "joan@example.net",
	})
	req.Header.Set("X-Admin-Key", testAdminKey)
	rec := f.do(t, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.Token)

	ref, _ := renderReference(t, f, "Freda Smith", "freda@example.com", "https://example.org/groups/walking")

	t.Run("携带令牌时表单预填访客身份", func(t *testing.T) {
		parsed, err := url.Parse(ref.URL)
		require.NoError(t, err)
		getReq := httptest.NewRequest(http.MethodGet, parsed.Path+"?"+parsed.RawQuery, nil)
		getReq.Header.Set("Authorization", "Bearer "+resp.Data.Token)
		rec := f.do(t, getReq)
		require.Equal(t, http.StatusOK, rec.Code)

		body := rec.Body.String()
		assert.Contains(t, body, "Joan Member")
		assert.Contains(t, body, "joan@example.net")
		assert.Contains(t, body, `name="sendCopy"`)
	})

	t.Run("无效令牌按匿名访客处理", func(t *testing.T) {
		parsed, err := url.Parse(ref.URL)
		require.NoError(t, err)
		getReq := httptest.NewRequest(http.MethodGet, parsed.Path+"?"+parsed.RawQuery, nil)
		getReq.Header.Set("Authorization", "Bearer not-a-token")
		rec := f.do(t, getReq)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), "joan@example.net")
	})
}
