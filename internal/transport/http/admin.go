package httptransport

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"contactrelay/backend/internal/auth/jwt"
	"contactrelay/backend/internal/domain"
	"contactrelay/backend/internal/service"
)

// AdminHandler 审计读取接口与访客令牌签发。
type AdminHandler struct {
	logs       *service.DeliveryLogService
	jwtManager *jwt.Manager
	logger     *zap.Logger
}

// NewAdminHandler 创建审计处理器。
func NewAdminHandler(logs *service.DeliveryLogService, jwtManager *jwt.Manager, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{logs: logs, jwtManager: jwtManager, logger: logger}
}

// logListResponse 投递日志分页结果
type logListResponse struct {
	Entries []domain.DeliveryLogEntry `json:"entries"`
	Total   int                       `json:"total"`
	Limit   int                       `json:"limit"`
	Offset  int                       `json:"offset"`
}

// ListLog 处理 GET /v1/admin/log
//
// 查询参数: days（窗口天数）、filter（all、blocked 或收件邮箱）、
// limit、offset（分页）。
func (h *AdminHandler) ListLog(c *gin.Context) {
	days := intQuery(c, "days", 0)
	filter := c.DefaultQuery("filter", domain.LogFilterAll)
	limit := intQuery(c, "limit", 25)
	offset := intQuery(c, "offset", 0)

	entries, total, err := h.logs.List(days, filter, limit, offset)
	if err != nil {
		h.logger.Error("读取投递日志失败", zap.Error(err))
		InternalError(c, "无法读取投递日志")
		return
	}

	Success(c, logListResponse{
		Entries: entries,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// LogSummary 处理 GET /v1/admin/log/summary
func (h *AdminHandler) LogSummary(c *gin.Context) {
	days := intQuery(c, "days", 0)

	summary, err := h.logs.Summary(days)
	if err != nil {
		h.logger.Error("统计投递日志失败", zap.Error(err))
		InternalError(c, "无法统计投递日志")
		return
	}
	Success(c, summary)
}

// visitorTokenRequest 访客令牌签发请求
type visitorTokenRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required"`
}

// IssueVisitorToken 处理 POST /v1/admin/visitor-tokens。
// 站点在访客登录后调用，换取表单预填用的身份令牌。
func (h *AdminHandler) IssueVisitorToken(c *gin.Context) {
	if h.jwtManager == nil {
		BadRequest(c, "访客身份识别未启用")
		return
	}

	var req visitorTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "请求体格式错误")
		return
	}
	if err := domain.ValidateEmailAddress(req.Email); err != nil {
		BadRequest(c, "访客邮箱格式无效")
		return
	}

	token, err := h.jwtManager.GenerateToken(req.Name, req.Email)
	if err != nil {
		h.logger.Error("签发访客令牌失败", zap.Error(err))
		InternalError(c, "无法签发访客令牌")
		return
	}

	Created(c, gin.H{
		"token":     token,
		"issuedAt":  time.Now().UTC(),
		"tokenType": "Bearer",
	})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
