package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"menu_service_go/internal/service"
	"menu_service_go/pkg/log"

	"github.com/gin-gonic/gin"
)

// MenuHandler 负责菜单树管理接口。
// 读接口开放，写接口由路由组挂载的认证/管理员中间件保护。
type MenuHandler struct {
	menuService service.MenuService
}

func NewMenuHandler(menuService service.MenuService) *MenuHandler {
	return &MenuHandler{menuService: menuService}
}

// CreateMenuRequest 是创建菜单节点的请求体。
// slug/order/isActive/parentId 均可选；slug 使用指针以区分
// "没传该字段"和"显式传空字符串（要求从 name 派生）"两种情况。
type CreateMenuRequest struct {
	Name      string  `json:"name" binding:"required"`
	Slug      *string `json:"slug"`
	SortOrder *int    `json:"order"`
	IsActive  *bool   `json:"isActive"`
	ParentID  *uint   `json:"parentId"`
}

// UpdateMenuRequest 是更新菜单节点的请求体，任意字段子集均合法。
// parentId 用 json.RawMessage 承载，以便区分三种状态：
// 没传、显式 null（摘成根节点）、指定新父节点 id。
type UpdateMenuRequest struct {
	Name      *string         `json:"name"`
	Slug      *string         `json:"slug"`
	SortOrder *int            `json:"order"`
	IsActive  *bool           `json:"isActive"`
	ParentID  json.RawMessage `json:"parentId"`
}

// parseOptionalParent 把原始 parentId 字段解析为三态结构。
func parseOptionalParent(raw json.RawMessage) (service.OptionalParent, bool) {
	if len(raw) == 0 {
		return service.OptionalParent{}, true
	}
	if string(raw) == "null" {
		return service.OptionalParent{Set: true}, true
	}
	var id uint
	if err := json.Unmarshal(raw, &id); err != nil {
		return service.OptionalParent{}, false
	}
	return service.OptionalParent{Set: true, Value: &id}, true
}

// parseMenuID 解析路径参数中的节点 id。
func parseMenuID(c *gin.Context) (uint, bool) {
	id64, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id64 == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid menu ID",
		})
		return 0, false
	}
	return uint(id64), true
}

// Create 创建菜单节点。
func (h *MenuHandler) Create(c *gin.Context) {
	var req CreateMenuRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid request body",
		})
		return
	}

	node, err := h.menuService.Create(service.CreateMenuInput{
		Name:      req.Name,
		Slug:      req.Slug,
		SortOrder: req.SortOrder,
		IsActive:  req.IsActive,
		ParentID:  req.ParentID,
	})
	if err != nil {
		log.Warnf("MenuHandler.Create: failed to create menu node: %v", err)
		failJSON(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    node,
	})
}

// List 返回平铺分页列表，支持 search/sortBy/sortOrder。
func (h *MenuHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	nodes, pagination, err := h.menuService.List(service.ListMenusParams{
		Page:      page,
		Limit:     limit,
		Search:    c.Query("search"),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
	})
	if err != nil {
		log.Warnf("MenuHandler.List: failed to list menu nodes: %v", err)
		failJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"items":      nodes,
			"pagination": pagination,
		},
	})
}

// GetTree 返回完整菜单树（所有根节点 + 嵌套 children）。
func (h *MenuHandler) GetTree(c *gin.Context) {
	tree, err := h.menuService.GetTree()
	if err != nil {
		log.Warnf("MenuHandler.GetTree: failed to build menu tree: %v", err)
		failJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    tree,
	})
}

// Get 返回单个节点；?tree=true 时返回以该节点为根的子树。
func (h *MenuHandler) Get(c *gin.Context) {
	id, ok := parseMenuID(c)
	if !ok {
		return
	}

	if c.Query("tree") == "true" {
		subtree, err := h.menuService.GetSubtree(id)
		if err != nil {
			failJSON(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"data":    subtree,
		})
		return
	}

	node, err := h.menuService.GetByID(id)
	if err != nil {
		failJSON(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    node,
	})
}

// Update 更新菜单节点（PATCH 语义，任意字段子集）。
func (h *MenuHandler) Update(c *gin.Context) {
	id, ok := parseMenuID(c)
	if !ok {
		return
	}

	var req UpdateMenuRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid request body",
		})
		return
	}

	parent, ok := parseOptionalParent(req.ParentID)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid parentId value",
		})
		return
	}

	node, err := h.menuService.Update(id, service.UpdateMenuInput{
		Name:      req.Name,
		Slug:      req.Slug,
		SortOrder: req.SortOrder,
		IsActive:  req.IsActive,
		ParentID:  parent,
	})
	if err != nil {
		log.Warnf("MenuHandler.Update: failed to update menu node %d: %v", id, err)
		failJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    node,
	})
}

// Delete 删除菜单节点。有子节点的节点拒绝删除，调用方需先处理层级关系。
func (h *MenuHandler) Delete(c *gin.Context) {
	id, ok := parseMenuID(c)
	if !ok {
		return
	}

	if err := h.menuService.Delete(id); err != nil {
		log.Warnf("MenuHandler.Delete: failed to delete menu node %d: %v", id, err)
		failJSON(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Menu node deleted successfully",
	})
}
