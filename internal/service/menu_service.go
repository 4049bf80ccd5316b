package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"menu_service_go/internal/model"
	"menu_service_go/internal/repository"
	"menu_service_go/pkg/log"
	"menu_service_go/pkg/slug"
	"menu_service_go/pkg/token"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 哨兵错误：对外统一语义，隐藏底层实现细节
var (
	// ErrInvalidInput 请求参数不合法
	ErrInvalidInput = errors.New("invalid input")
	// ErrMenuNotFound 菜单节点不存在
	ErrMenuNotFound = errors.New("menu node not found")
	// ErrParentNotFound 指定的父节点不存在
	ErrParentNotFound = errors.New("parent menu node not found")
	// ErrMenuConflict 唯一性冲突（slug、name 或同组排序值重复）
	ErrMenuConflict = errors.New("duplicate menu slug, name or order")
	// ErrSelfParent 不允许把节点挂到自己下面
	ErrSelfParent = errors.New("menu node cannot be its own parent")
	// ErrCyclicParent 不允许把节点挂到自己的后代下面（会成环）
	ErrCyclicParent = errors.New("menu node cannot be moved into its own descendant")
	// ErrMenuHasChildren 有子节点的节点禁止直接删除
	ErrMenuHasChildren = errors.New("menu node has children")
)

// treeCacheKey / treeCacheTTL 菜单树的 Redis 缓存键与有效期。
// 树是读多写少的数据，写操作统一删键，读操作短 TTL 兜底。
const (
	treeCacheKey = "menu:tree:v1"
	treeCacheTTL = 60 * time.Second
)

// limit 超过上限时收敛到 100 而不是报错
const maxPageLimit = 100

// CreateMenuInput 创建菜单节点的入参。
// 指针字段区分"没传"和"传了零值"：Slug 传空串表示要求从 name 派生。
type CreateMenuInput struct {
	Name      string
	Slug      *string
	SortOrder *int
	IsActive  *bool
	ParentID  *uint
}

// UpdateMenuInput 更新菜单节点的入参，所有字段都是可选的。
type UpdateMenuInput struct {
	Name      *string
	Slug      *string
	SortOrder *int
	IsActive  *bool
	ParentID  OptionalParent
}

// OptionalParent 表达 parentId 的三种状态：
// 没传（Set=false）、显式置空（Set=true, Value=nil，即摘成根节点）、
// 指定新父节点（Set=true, Value 非 nil）。
type OptionalParent struct {
	Set   bool
	Value *uint
}

// ListMenusParams 平铺分页查询的入参，越界值在 service 层收敛为安全默认值。
type ListMenusParams struct {
	Page      int
	Limit     int
	Search    string
	SortBy    string
	SortOrder string
}

// Pagination 分页元信息
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// MenuService 封装菜单树的领域逻辑。
// 设计目标：
// 1. Handler 不直接操作 Repository，避免协议层混入业务规则。
// 2. 统一错误语义，把底层 gorm/repository 错误转换为 service 哨兵错误。
// 3. 聚合 slug 去重、排序值分配、树结构守卫等"非纯 CRUD"的业务逻辑。
type MenuService interface {
	Create(input CreateMenuInput) (*model.MenuNode, error)
	Update(id uint, input UpdateMenuInput) (*model.MenuNode, error)
	Delete(id uint) error
	GetByID(id uint) (*model.MenuNode, error)
	List(params ListMenusParams) ([]model.MenuNode, Pagination, error)
	GetTree() ([]*model.MenuTreeNode, error)
	GetSubtree(id uint) (*model.MenuTreeNode, error)
}

// TreeCache 抽象菜单树缓存需要的最小 Redis 能力。
// *redis.Client 天然满足该接口；单测注入假实现即可覆盖缓存路径。
type TreeCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type menuService struct {
	menuRepo repository.MenuRepository
	// cache 为 nil 时所有读写直接走数据库
	cache TreeCache
}

func NewMenuService(menuRepo repository.MenuRepository, cache TreeCache) MenuService {
	return &menuService{menuRepo: menuRepo, cache: cache}
}

// Create 创建菜单节点。
// 关键规则：
// 1. slug 优先取显式传入值，等效为空时回退到 name；规整后仍为空则用随机后缀合成。
// 2. slug 去重（base、base-2、base-3 … 递增探测）。
// 3. 指定 parentId 时父节点必须存在。
// 4. 排序值未传时取同组最大值 +1，空组从 1 开始。
// 5. 整个写入在持有以父节点为粒度的命名锁的事务里完成（锁在事务提交后
//    才释放），串行化同组并发创建的排序值计算；
//    漏网的唯一键冲突转换为 ErrMenuConflict。
func (s *menuService) Create(input CreateMenuInput) (*model.MenuNode, error) {
	if s.menuRepo == nil {
		return nil, ErrInternal
	}

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, ErrInvalidInput
	}

	// 先定 slug 的派生源，再规整
	baseSource := name
	if input.Slug != nil && !slug.IsEffectivelyEmpty(*input.Slug) {
		baseSource = *input.Slug
	}
	base := slug.Normalize(baseSource)
	if base == "" {
		// name 全是被剔除的字符（如纯符号），用随机后缀兜底
		base = "menu-" + token.GenerateRandomString(4)
	}

	node := &model.MenuNode{
		UID:      uuid.NewString(),
		Name:     name,
		IsActive: true,
		ParentID: input.ParentID,
	}
	if input.IsActive != nil {
		node.IsActive = *input.IsActive
	}

	err := s.menuRepo.WithSiblingLock(input.ParentID, func(txRepo repository.MenuRepository) error {
		// 父节点存在性检查放在事务内，避免检查后父节点被删除
		if input.ParentID != nil {
			if _, err := txRepo.FindByID(*input.ParentID); err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrParentNotFound
				}
				return err
			}
		}

		uniqueSlug, err := resolveUniqueSlug(txRepo, base)
		if err != nil {
			return err
		}
		node.Slug = uniqueSlug

		if input.SortOrder != nil {
			node.SortOrder = *input.SortOrder
		} else {
			next, err := nextSortOrder(txRepo, input.ParentID)
			if err != nil {
				return err
			}
			node.SortOrder = next
		}

		if err := txRepo.Create(node); err != nil {
			if repository.IsDuplicateEntry(err) {
				return ErrMenuConflict
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateTreeCache()
	return node, nil
}

// Update 更新菜单节点，所有字段可单独更新。
// 关键规则：
// 1. name 去除空白后非空且与当前不同才生效。
// 2. 显式传 slug（包括空串）时从该值派生，等效为空回退到（可能刚更新的）name；
//    没传 slug 但 name 变了时按同样规则自动重新派生。
//    派生出的 base 与当前 slug 相同则不重复去重。
// 3. parentId 显式置空表示摘成根节点；指定新父节点时先过自挂/成环守卫，
//    再检查目标父节点存在。
// 4. 整个写入在持有目标兄弟组命名锁的事务里完成，锁在事务提交后才释放。
func (s *menuService) Update(id uint, input UpdateMenuInput) (*model.MenuNode, error) {
	if s.menuRepo == nil {
		return nil, ErrInternal
	}
	if id == 0 {
		return nil, ErrInvalidInput
	}

	// 先读一次确定目标兄弟组（锁组必须在开事务前定下来）。
	// 锁内会重新读权威数据；读后到加锁前的极小窗口里若节点被并发改挂，
	// 残余冲突由 (parent_key, sort_order) 唯一索引兜底为 Conflict。
	current, err := s.menuRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMenuNotFound
		}
		return nil, err
	}
	targetParent := current.ParentID
	if input.ParentID.Set {
		targetParent = input.ParentID.Value
	}

	var updated *model.MenuNode
	err = s.menuRepo.WithSiblingLock(targetParent, func(txRepo repository.MenuRepository) error {
		node, err := txRepo.FindByID(id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMenuNotFound
			}
			return err
		}

		nameChanged := false
		if input.Name != nil {
			trimmed := strings.TrimSpace(*input.Name)
			if trimmed != "" && trimmed != node.Name {
				node.Name = trimmed
				nameChanged = true
			}
		}

		if input.ParentID.Set {
			if input.ParentID.Value == nil {
				node.ParentID = nil
			} else {
				newParentID := *input.ParentID.Value
				if err := validateReparent(txRepo, node.ID, newParentID); err != nil {
					return err
				}
				if _, err := txRepo.FindByID(newParentID); err != nil {
					if errors.Is(err, gorm.ErrRecordNotFound) {
						return ErrParentNotFound
					}
					return err
				}
				node.ParentID = &newParentID
			}
		}

		// slug 派生：显式传 slug 优先；否则只在 name 变化时自动重算
		if input.Slug != nil || nameChanged {
			baseSource := node.Name
			if input.Slug != nil && !slug.IsEffectivelyEmpty(*input.Slug) {
				baseSource = *input.Slug
			}
			base := slug.Normalize(baseSource)
			if base == "" {
				base = "menu-" + token.GenerateRandomString(4)
			}
			if base != node.Slug {
				uniqueSlug, err := resolveUniqueSlug(txRepo, base)
				if err != nil {
					return err
				}
				node.Slug = uniqueSlug
			}
		}

		if input.SortOrder != nil {
			node.SortOrder = *input.SortOrder
		}
		if input.IsActive != nil {
			node.IsActive = *input.IsActive
		}

		if err := txRepo.Update(node); err != nil {
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				return ErrMenuNotFound
			case repository.IsDuplicateEntry(err):
				return ErrMenuConflict
			default:
				return err
			}
		}
		updated = node
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateTreeCache()
	return updated, nil
}

// Delete 执行保护删除：有子节点时返回 ErrMenuHasChildren，
// 调用方需要先删除或重挂子节点。"检查 + 删除"在同一事务内保证原子性。
func (s *menuService) Delete(id uint) error {
	if s.menuRepo == nil {
		return ErrInternal
	}
	if id == 0 {
		return ErrInvalidInput
	}

	err := s.menuRepo.WithTx(func(txRepo repository.MenuRepository) error {
		if _, err := txRepo.FindByID(id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMenuNotFound
			}
			return err
		}

		childCount, err := txRepo.CountChildren(id)
		if err != nil {
			return err
		}
		if childCount > 0 {
			return ErrMenuHasChildren
		}

		if err := txRepo.Delete(id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMenuNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateTreeCache()
	return nil
}

func (s *menuService) GetByID(id uint) (*model.MenuNode, error) {
	if s.menuRepo == nil {
		return nil, ErrInternal
	}
	if id == 0 {
		return nil, ErrInvalidInput
	}

	node, err := s.menuRepo.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMenuNotFound
		}
		return nil, err
	}
	return node, nil
}

// menuSortColumns 是排序字段白名单，键为对外参数名，值为实际列名。
// 不在白名单内的 sortBy 一律回落到 created_at，避免列名注入。
var menuSortColumns = map[string]string{
	"name":      "name",
	"slug":      "slug",
	"order":     "sort_order",
	"sortOrder": "sort_order",
	"createdAt": "created_at",
	"updatedAt": "updated_at",
}

// List 分页查询平铺列表。
// page 从 1 开始，limit 收敛到 [1, 100]，默认按创建时间升序。
func (s *menuService) List(params ListMenusParams) ([]model.MenuNode, Pagination, error) {
	if s.menuRepo == nil {
		return nil, Pagination{}, ErrInternal
	}

	page := params.Page
	if page < 1 {
		page = 1
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	column, ok := menuSortColumns[params.SortBy]
	if !ok {
		column = "created_at"
	}
	direction := "ASC"
	if strings.EqualFold(params.SortOrder, "desc") {
		direction = "DESC"
	}

	nodes, total, err := s.menuRepo.List(repository.MenuListParams{
		Offset:      (page - 1) * limit,
		Limit:       limit,
		Search:      strings.TrimSpace(params.Search),
		OrderClause: fmt.Sprintf("%s %s", column, direction),
	})
	if err != nil {
		return nil, Pagination{}, err
	}

	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return nodes, Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}, nil
}

// GetTree 构建完整菜单树（所有根节点 + 递归 children）。
// 结果优先走 Redis 缓存，缓存不可用时退化为直接读库。
func (s *menuService) GetTree() ([]*model.MenuTreeNode, error) {
	if s.menuRepo == nil {
		return nil, ErrInternal
	}

	if cached, ok := s.readTreeCache(); ok {
		return cached, nil
	}

	nodes, err := s.menuRepo.FindAll()
	if err != nil {
		return nil, err
	}
	tree := buildMenuTree(nodes)

	s.writeTreeCache(tree)
	return tree, nil
}

// GetSubtree 返回以指定节点为根的子树，Depth 保持其在整棵树中的深度。
func (s *menuService) GetSubtree(id uint) (*model.MenuTreeNode, error) {
	if s.menuRepo == nil {
		return nil, ErrInternal
	}
	if id == 0 {
		return nil, ErrInvalidInput
	}

	nodes, err := s.menuRepo.FindAll()
	if err != nil {
		return nil, err
	}

	index := make(map[uint]*model.MenuTreeNode, len(nodes))
	for _, tree := range buildMenuTree(nodes) {
		collectTreeNodes(tree, index)
	}

	node, ok := index[id]
	if !ok {
		return nil, ErrMenuNotFound
	}
	return node, nil
}

// resolveUniqueSlug 把候选 base 解析为未占用的 slug。
// base 未被占用则原样返回，否则探测 base-2、base-3 … 直到找到空位。
// 必须在持有兄弟组锁的事务内调用；并发窗口漏网的冲突由唯一索引兜底。
func resolveUniqueSlug(repo repository.MenuRepository, base string) (string, error) {
	exists, err := repo.SlugExists(base)
	if err != nil {
		return "", err
	}
	if !exists {
		return base, nil
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		exists, err := repo.SlugExists(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
}

// nextSortOrder 计算兄弟组内下一个排序值：当前最大值 +1，空组从 1 开始。
func nextSortOrder(repo repository.MenuRepository, parentID *uint) (int, error) {
	max, err := repo.MaxSortOrder(parentID)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// validateReparent 校验改挂父节点请求：
// 1. 不允许挂到自己下面。
// 2. 不允许挂到自己的后代下面（会成环）。
// 后代集合按层 BFS 展开，复杂度与子树规模成正比，与整棵树无关。
func validateReparent(repo repository.MenuRepository, nodeID, newParentID uint) error {
	if newParentID == nodeID {
		return ErrSelfParent
	}

	frontier := []uint{nodeID}
	for len(frontier) > 0 {
		children, err := repo.FindChildIDs(frontier)
		if err != nil {
			return err
		}
		for _, childID := range children {
			if childID == newParentID {
				return ErrCyclicParent
			}
		}
		frontier = children
	}
	return nil
}

// buildMenuTree 把平铺记录组装为树。
// 实现采用两遍扫描：
// 1. 第一遍创建所有节点并放入 map（id -> node）
// 2. 第二遍按 parent 关系把子节点挂到父节点上，并从根出发推导 Depth
// 父节点缺失的孤儿节点统一作为根节点返回，避免节点丢失。
func buildMenuTree(nodes []model.MenuNode) []*model.MenuTreeNode {
	index := make(map[uint]*model.MenuTreeNode, len(nodes))
	for _, n := range nodes {
		index[n.ID] = &model.MenuTreeNode{
			ID:        n.ID,
			UID:       n.UID,
			Name:      n.Name,
			Slug:      n.Slug,
			SortOrder: n.SortOrder,
			IsActive:  n.IsActive,
			ParentID:  n.ParentID,
			Children:  []*model.MenuTreeNode{},
		}
	}

	roots := make([]*model.MenuTreeNode, 0)
	for _, n := range nodes {
		node := index[n.ID]
		if n.ParentID != nil {
			if parent, ok := index[*n.ParentID]; ok {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	for _, root := range roots {
		fillDepth(root, 0)
	}
	return roots
}

func fillDepth(node *model.MenuTreeNode, depth int) {
	node.Depth = depth
	for _, child := range node.Children {
		fillDepth(child, depth+1)
	}
}

func collectTreeNodes(node *model.MenuTreeNode, index map[uint]*model.MenuTreeNode) {
	index[node.ID] = node
	for _, child := range node.Children {
		collectTreeNodes(child, index)
	}
}

// readTreeCache 尝试从 Redis 读缓存的树。任何失败都静默退化为读库。
func (s *menuService) readTreeCache() ([]*model.MenuTreeNode, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(context.Background(), treeCacheKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warnf("menu tree cache read failed: %v", err)
		}
		return nil, false
	}
	var tree []*model.MenuTreeNode
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		log.Warnf("menu tree cache decode failed: %v", err)
		return nil, false
	}
	return tree, true
}

func (s *menuService) writeTreeCache(tree []*model.MenuTreeNode) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return
	}
	if err := s.cache.Set(context.Background(), treeCacheKey, raw, treeCacheTTL).Err(); err != nil {
		log.Warnf("menu tree cache write failed: %v", err)
	}
}

// invalidateTreeCache 写操作成功后删除缓存键，下一次读取重建。
func (s *menuService) invalidateTreeCache() {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(context.Background(), treeCacheKey).Err(); err != nil {
		log.Warnf("menu tree cache invalidate failed: %v", err)
	}
}
