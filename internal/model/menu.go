package model

import (
	"time"

	"gorm.io/gorm"
)

// MenuNode 对应数据库中 menu_nodes 表，表示菜单树中的一个节点。
// 菜单支持树形结构，通过 ParentID 指向父节点实现层级关系（邻接表）。
// 唯一性约束：
//   - slug 全局唯一（URL 标识）
//   - name 全局唯一
//   - (parent_key, sort_order) 组合唯一，作为并发插入时的最后兜底
type MenuNode struct {
	ID        uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	UID       string `gorm:"type:varchar(36);not null;uniqueIndex" json:"uid"`
	Name      string `gorm:"type:varchar(100);not null;uniqueIndex" json:"name"`
	Slug      string `gorm:"type:varchar(150);not null;uniqueIndex" json:"slug"`
	SortOrder int    `gorm:"not null;uniqueIndex:idx_menu_parent_order,priority:2" json:"order"`
	IsActive  bool   `gorm:"not null;default:true" json:"isActive"`
	ParentID  *uint  `gorm:"index" json:"parentId"`
	// ParentKey 是 ParentID 的非空镜像，根节点为 0（自增主键从 1 开始，
	// 0 不会与真实节点冲突）。组合唯一索引建在它而不是 parent_id 上：
	// MySQL 的唯一索引把 NULL 视为互不相等，直接用可空的 parent_id
	// 建索引时根组的排序值完全不受约束。由 BeforeSave 钩子维护。
	ParentKey uint      `gorm:"not null;default:0;uniqueIndex:idx_menu_parent_order,priority:1" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// BeforeSave 在创建和更新前同步 ParentKey，
// 保证 (parent_key, sort_order) 唯一索引对根组同样生效。
func (n *MenuNode) BeforeSave(*gorm.DB) error {
	if n.ParentID != nil {
		n.ParentKey = *n.ParentID
	} else {
		n.ParentKey = 0
	}
	return nil
}

// MenuTreeNode 是菜单的树形节点，用于构建前端需要的嵌套结构响应。
// 与 MenuNode（数据库模型）的区别：
//   - 不含 CreatedAt/UpdatedAt 等审计字段
//   - 增加了 Depth 字段（根节点为 0，构建树时推导，不落库）
//   - 增加了 Children 字段，用于嵌套子节点
type MenuTreeNode struct {
	ID        uint            `json:"id"`
	UID       string          `json:"uid"`
	Name      string          `json:"name"`
	Slug      string          `json:"slug"`
	SortOrder int             `json:"order"`
	IsActive  bool            `json:"isActive"`
	ParentID  *uint           `json:"parentId"`
	Depth     int             `json:"depth"`
	Children  []*MenuTreeNode `json:"children"`
}

// TableName 指定 GORM 使用的表名
func (MenuNode) TableName() string {
	return "menu_nodes"
}
