package handler

import (
	"github.com/gin-gonic/gin"

	"bonfire/backend/pkg/jwt"
	"bonfire/backend/pkg/response"
)

// MustGetSubjectID 从 Gin 上下文中安全提取 subject_id。
// 如果 JWT 中间件未正确注入 subject_id，返回 false 并写入 401 响应。
// 调用方应在 ok=false 时直接 return。
func MustGetSubjectID(c *gin.Context) (string, bool) {
	v, exists := c.Get("subject_id")
	if !exists {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	return s, true
}

// MustGetRole 从 Gin 上下文中安全提取 role。
func MustGetRole(c *gin.Context) (string, bool) {
	v, exists := c.Get("role")
	if !exists {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		response.Unauthorized(c, 10002, "未认证")
		return "", false
	}
	return s, true
}

// resolveChildID 确定本次请求针对的孩子。
// 孩子角色固定操作自己；监护人通过 child_id 查询参数指定目标。
func resolveChildID(c *gin.Context) (string, bool) {
	subjectID, ok := MustGetSubjectID(c)
	if !ok {
		return "", false
	}
	role, ok := MustGetRole(c)
	if !ok {
		return "", false
	}

	if role == jwt.RoleChild {
		return subjectID, true
	}

	childID := c.Query("child_id")
	if childID == "" {
		response.BadRequest(c, 14001, "child_id不能为空")
		return "", false
	}
	return childID, true
}
