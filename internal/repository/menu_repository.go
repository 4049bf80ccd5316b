package repository

import (
	"errors"
	"fmt"
	"strings"

	"menu_service_go/internal/model"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// 同级锁的等待时间（秒）。并发创建同父节点的场景持锁时间很短，
// 超过这个时间基本可以断定出了问题。
const siblingLockWaitSeconds = 5

// MenuListParams 是平铺分页查询的参数。
// 合法性（limit 上限、排序白名单）由 service 层保证，这里只负责拼查询。
type MenuListParams struct {
	Offset      int
	Limit       int
	Search      string // 空串表示不过滤
	OrderClause string // 形如 "created_at ASC"，由 service 从白名单构造
}

// MenuRepository 定义菜单节点的持久化操作接口。
// 菜单是树形结构，通过 ParentID 实现父子关系（邻接表），
// 子树遍历由调用方基于 FindChildIDs 按层展开，复杂度与子树规模成正比。
type MenuRepository interface {
	// WithTx 在一个数据库事务中执行 fn，fn 拿到的是绑定事务连接的仓库。
	// 事务内任何一步失败整体回滚，不存在部分生效的写入。
	WithTx(fn func(txRepo MenuRepository) error) error

	// WithSiblingLock 先在一条独占连接上获取以父节点为粒度的 MySQL
	// 命名锁（GET_LOCK），再在同一连接上开启事务执行 fn，事务提交或
	// 回滚之后才释放锁。锁覆盖整个事务生命周期：后来者在锁内读到的
	// 一定是已提交的数据，同组排序值计算因此被完全串行化。
	WithSiblingLock(parentID *uint, fn func(txRepo MenuRepository) error) error

	Create(node *model.MenuNode) error
	FindByID(id uint) (*model.MenuNode, error)
	FindAll() ([]model.MenuNode, error)
	FindChildIDs(parentIDs []uint) ([]uint, error)
	SlugExists(slugValue string) (bool, error)
	// MaxSortOrder 返回兄弟组内当前最大的排序值；组为空时返回 0。
	MaxSortOrder(parentID *uint) (int, error)
	CountChildren(id uint) (int64, error)
	// Update 更新 name/slug/sort_order/is_active/parent_id/parent_key。
	// 使用 Select 显式列出，保证 parent_id 置 NULL（摘除父节点）能够生效。
	Update(node *model.MenuNode) error
	Delete(id uint) error
	List(params MenuListParams) ([]model.MenuNode, int64, error)
}

// menuRepository 是 MenuRepository 的 GORM 实现。
type menuRepository struct {
	db *gorm.DB
}

func NewMenuRepository(db *gorm.DB) MenuRepository {
	return &menuRepository{db: db}
}

func (r *menuRepository) WithTx(fn func(txRepo MenuRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&menuRepository{db: tx})
	})
}

// siblingLockKey 生成兄弟组锁的键名：根组用固定哨兵值，其余用父节点 id。
func siblingLockKey(parentID *uint) string {
	if parentID == nil {
		return "menu_order:root"
	}
	return fmt.Sprintf("menu_order:%d", *parentID)
}

func (r *menuRepository) WithSiblingLock(parentID *uint, fn func(txRepo MenuRepository) error) error {
	key := siblingLockKey(parentID)
	// GET_LOCK 是连接级别的锁，Connection 固定一条连接，
	// 保证加锁、事务和解锁都发生在它上面。
	return r.db.Connection(func(conn *gorm.DB) error {
		var got int
		if err := conn.Raw("SELECT GET_LOCK(?, ?)", key, siblingLockWaitSeconds).Scan(&got).Error; err != nil {
			return err
		}
		if got != 1 {
			return fmt.Errorf("failed to acquire sibling lock %q", key)
		}
		// Transaction 返回时 COMMIT/ROLLBACK 已经完成，defer 在那之后
		// 才执行：锁释放时本事务的写入对后来者已经可见。
		defer func() {
			var released int
			_ = conn.Raw("SELECT RELEASE_LOCK(?)", key).Scan(&released).Error
		}()

		return conn.Transaction(func(tx *gorm.DB) error {
			return fn(&menuRepository{db: tx})
		})
	})
}

func (r *menuRepository) Create(node *model.MenuNode) error {
	if node == nil {
		return fmt.Errorf("menu node is nil")
	}
	return r.db.Create(node).Error
}

func (r *menuRepository) FindByID(id uint) (*model.MenuNode, error) {
	if id == 0 {
		return nil, fmt.Errorf("menu id is required")
	}
	var node model.MenuNode
	if err := r.db.First(&node, id).Error; err != nil {
		return nil, err
	}
	return &node, nil
}

func (r *menuRepository) FindAll() ([]model.MenuNode, error) {
	var nodes []model.MenuNode
	if err := r.db.Order("sort_order ASC, id ASC").Find(&nodes).Error; err != nil {
		return nil, err
	}
	return nodes, nil
}

// FindChildIDs 返回一批节点的全部直接子节点 id，供按层 BFS 展开子树使用。
func (r *menuRepository) FindChildIDs(parentIDs []uint) ([]uint, error) {
	if len(parentIDs) == 0 {
		return []uint{}, nil
	}
	var ids []uint
	if err := r.db.Model(&model.MenuNode{}).
		Where("parent_id IN ?", parentIDs).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *menuRepository) SlugExists(slugValue string) (bool, error) {
	if slugValue == "" {
		return false, fmt.Errorf("slug is required")
	}
	var count int64
	if err := r.db.Model(&model.MenuNode{}).
		Where("slug = ?", slugValue).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *menuRepository) MaxSortOrder(parentID *uint) (int, error) {
	var max int
	tx := r.db.Model(&model.MenuNode{}).Select("COALESCE(MAX(sort_order), 0)")
	if parentID == nil {
		tx = tx.Where("parent_id IS NULL")
	} else {
		tx = tx.Where("parent_id = ?", *parentID)
	}
	if err := tx.Scan(&max).Error; err != nil {
		return 0, err
	}
	return max, nil
}

func (r *menuRepository) CountChildren(id uint) (int64, error) {
	var count int64
	if err := r.db.Model(&model.MenuNode{}).
		Where("parent_id = ?", id).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *menuRepository) Update(node *model.MenuNode) error {
	if node == nil {
		return fmt.Errorf("menu node is nil")
	}
	if node.ID == 0 {
		return fmt.Errorf("menu id is required")
	}

	tx := r.db.Model(&model.MenuNode{}).
		Where("id = ?", node.ID).
		Select("name", "slug", "sort_order", "is_active", "parent_id", "parent_key").
		Updates(node)

	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *menuRepository) Delete(id uint) error {
	if id == 0 {
		return fmt.Errorf("menu id is required")
	}
	res := r.db.Delete(&model.MenuNode{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// List 分页查询平铺列表。search 同时模糊匹配 name 和 slug（命中任意一个即可）。
// 先数总量再取当前页，total 为过滤后的总数。
func (r *menuRepository) List(params MenuListParams) ([]model.MenuNode, int64, error) {
	if params.Offset < 0 {
		params.Offset = 0
	}
	if params.Limit <= 0 {
		params.Limit = 10
	}
	orderClause := params.OrderClause
	if orderClause == "" {
		orderClause = "created_at ASC"
	}

	query := r.db.Model(&model.MenuNode{})
	if params.Search != "" {
		pattern := "%" + params.Search + "%"
		query = query.Where("LOWER(name) LIKE LOWER(?) OR LOWER(slug) LIKE LOWER(?)", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []model.MenuNode{}, 0, nil
	}

	var nodes []model.MenuNode
	if err := query.Order(orderClause).
		Offset(params.Offset).
		Limit(params.Limit).
		Find(&nodes).Error; err != nil {
		return nil, 0, err
	}
	return nodes, total, nil
}

// IsDuplicateEntry 判断错误是否为 MySQL 唯一键冲突（错误码 1062）。
// 并发创建在命名锁之外仍可能撞上 slug/name/(parent, order) 唯一索引，
// 调用方据此把底层错误转换为对外的冲突语义，而不是内部错误。
func IsDuplicateEntry(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// 兜底：错误被包装丢失类型信息时按文本匹配
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate entry") || strings.Contains(msg, "error 1062")
}
