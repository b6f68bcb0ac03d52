package role

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-parlor/backend/internal/model/role"
	"github.com/zhouzirui/z-parlor/backend/pkg/utils"
)

// Handler 角色目录的HTTP处理器
type Handler struct {
	roles role.Store
}

// New 创建角色处理器
func New(roles role.Store) *Handler {
	return &Handler{
		roles: roles,
	}
}

// RegisterRoutes 注册角色相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/roles", h.handleListRoles)
	r.Get("/roles/{roleID}", h.handleGetRole)
}

// handleListRoles 列出所有角色
func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.roles.List())
}

// handleGetRole 查询单个角色
func (h *Handler) handleGetRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "roleID")
	item, ok := h.roles.FindByID(id)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "role not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, item)
}
