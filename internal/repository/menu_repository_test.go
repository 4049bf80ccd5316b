package repository

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"menu_service_go/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newMockMenuRepo(t *testing.T) (MenuRepository, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open() error: %v", err)
	}

	return NewMenuRepository(gdb), mock
}

func menuRows(id uint, name, slugValue string, sortOrder int, parentID interface{}) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "uid", "name", "slug", "sort_order", "is_active", "parent_id", "created_at", "updated_at",
	}).AddRow(id, fmt.Sprintf("uid-%d", id), name, slugValue, sortOrder, true, parentID, now, now)
}

func TestMenuRepository_Create(t *testing.T) {
	repo, mock := newMockMenuRepo(t)

	node := &model.MenuNode{
		UID:       "uid-1",
		Name:      "Shop",
		Slug:      "shop",
		SortOrder: 1,
		IsActive:  true,
	}

	// 插入必须带上 parent_key 列，根组排序的唯一约束建在它上面
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `menu_nodes` \\(.*`parent_key`.*\\)").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := repo.Create(node); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMenuRepository_Update_WritesParentKey(t *testing.T) {
	repo, mock := newMockMenuRepo(t)

	parentID := uint(3)
	node := &model.MenuNode{ID: 5, Name: "Docs", Slug: "docs", SortOrder: 2, ParentID: &parentID}

	// 改挂父节点时 SET 子句必须同步 parent_key 镜像列
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `menu_nodes` SET .*`parent_key`.* WHERE id = \\?").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.Update(node); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if node.ParentKey != 3 {
		t.Fatalf("expected parent key synced to 3, got %d", node.ParentKey)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMenuRepository_FindByID(t *testing.T) {
	repo, mock := newMockMenuRepo(t)

	mock.ExpectQuery("SELECT .* FROM `menu_nodes` WHERE `menu_nodes`.`id` = \\? .* LIMIT \\?").
		WithArgs(1, 1).
		WillReturnRows(menuRows(1, "Shop", "shop", 1, nil))

	node, err := repo.FindByID(1)
	if err != nil {
		t.Fatalf("FindByID() error: %v", err)
	}
	if node == nil || node.ID != 1 || node.Slug != "shop" {
		t.Fatalf("unexpected node: %+v", node)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMenuRepository_FindAll_Ordered(t *testing.T) {
	repo, mock := newMockMenuRepo(t)

	rows := menuRows(1, "Shop", "shop", 1, nil).
		AddRow(2, "uid-2", "About", "about", 2, true, nil, time.Now(), time.Now())
	mock.ExpectQuery("SELECT .* FROM `menu_nodes` ORDER BY sort_order ASC, id ASC").
		WillReturnRows(rows)

	nodes, err := repo.FindAll()
	if err != nil {
		t.Fatalf("FindAll() error: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(nodes))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMenuRepository_FindChildIDs(t *testing.T) {
	repo, mock := newMockMenuRepo(t)

	mock.ExpectQuery("SELECT `id` FROM `menu_nodes` WHERE parent_id IN").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2).AddRow(3))

	ids, err := repo.FindChildIDs([]uint{1})
	if err != nil {
		t.Fatalf("FindChildIDs() error: %v", err)
	}
	if len(ids) != 2 || ids[0] != 2 || ids[1] != 3 {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMenuRepository_FindChildIDs_EmptyInput(t *testing.T) {
	repo, _ := newMockMenuRepo(t)

	// 空输入不应触发任何查询
	ids, err := repo.FindChildIDs(nil)
	if err != nil {
		t.Fatalf("FindChildIDs(nil) error: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty result, got %v", ids)
	}
}

func TestMenuRepository_SlugExists(t *testing.T) {
	repo, mock := newMockMenuRepo(t)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `menu_nodes` WHERE slug = \\?").
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(1))

	exists, err := repo.SlugExists("shop")
	if err != nil {
		t.Fatalf("SlugExists() error: %v", err)
	}
	if !exists {
		t.Fatalf("expected slug to exist")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMenuRepository_MaxSortOrder_Root(t *testing.T) {
	repo, mock := newMockMenuRepo(t)

	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(sort_order\\), 0\\) FROM `menu_nodes` WHERE parent_id IS NULL").
		WillReturnRows(sqlmock.NewRows([]string{"COALESCE(MAX(sort_order), 0)"}).AddRow(5))

	max, err := repo.MaxSortOrder(nil)
	if err != nil {
		t.Fatalf("MaxSortOrder(nil) error: %v", err)
	}
	if max != 5 {
		t.Fatalf("expected max 5, got %d", max)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMenuRepository_MaxSortOrder_Sibling(t *testing.T) {
	repo, mock := newMockMenuRepo(t)

	mock.ExpectQuery("SELECT COALESCE\\(MAX\\(sort_order\\), 0\\) FROM `menu_nodes` WHERE parent_id = \\?").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"COALESCE(MAX(sort_order), 0)"}).AddRow(0))

	parentID := uint(3)
	max, err := repo.MaxSortOrder(&parentID)
	if err != nil {
		t.Fatalf("MaxSortOrder(&3) error: %v", err)
	}
	if max != 0 {
		t.Fatalf("expected max 0 for empty group, got %d", max)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMenuRepository_CountChildren(t *testing.T) {
	repo, mock := newMockMenuRepo(t)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `menu_nodes` WHERE parent_id = \\?").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(2))

	count, err := repo.CountChildren(1)
	if err != nil {
		t.Fatalf("CountChildren() error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 children, got %d", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMenuRepository_Update_RowsAffectedZero(t *testing.T) {
	repo, mock := newMockMenuRepo(t)

	node := &model.MenuNode{ID: 99, Name: "Missing", Slug: "missing"}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `menu_nodes` SET .* WHERE id = \\?").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.Update(node)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got: %v", err)
	}
}

func TestMenuRepository_Delete_Success(t *testing.T) {
	repo, mock := newMockMenuRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `menu_nodes` WHERE").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.Delete(1); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMenuRepository_Delete_NotFound(t *testing.T) {
	repo, mock := newMockMenuRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `menu_nodes` WHERE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.Delete(99)
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got: %v", err)
	}
}

func TestMenuRepository_List_Search(t *testing.T) {
	repo, mock := newMockMenuRepo(t)

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `menu_nodes` WHERE LOWER\\(name\\) LIKE LOWER\\(\\?\\) OR LOWER\\(slug\\) LIKE LOWER\\(\\?\\)").
		WithArgs("%sh%", "%sh%").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(1))
	mock.ExpectQuery("SELECT .* FROM `menu_nodes` WHERE LOWER\\(name\\) LIKE LOWER\\(\\?\\) OR LOWER\\(slug\\) LIKE LOWER\\(\\?\\) ORDER BY name ASC LIMIT \\?").
		WillReturnRows(menuRows(1, "Shop", "shop", 1, nil))

	nodes, total, err := repo.List(MenuListParams{Limit: 10, Search: "sh", OrderClause: "name ASC"})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if total != 1 || len(nodes) != 1 || nodes[0].Name != "Shop" {
		t.Fatalf("unexpected result: total=%d nodes=%+v", total, nodes)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMenuRepository_List_EmptySkipsPageQuery(t *testing.T) {
	repo, mock := newMockMenuRepo(t)

	// total 为 0 时不应再发起取页查询
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `menu_nodes`").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(0))

	nodes, total, err := repo.List(MenuListParams{Limit: 10})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if total != 0 || len(nodes) != 0 {
		t.Fatalf("expected empty result, got total=%d nodes=%d", total, len(nodes))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

// sqlmock 的期望按声明顺序匹配：RELEASE_LOCK 排在 COMMIT 之后，
// 若实现把解锁挪到提交之前，这里会直接失败。
func TestMenuRepository_WithSiblingLock_ReleasesAfterCommit(t *testing.T) {
	repo, mock := newMockMenuRepo(t)

	mock.ExpectQuery("SELECT GET_LOCK\\(\\?, \\?\\)").
		WithArgs("menu_order:root", siblingLockWaitSeconds).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK(?, ?)"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `menu_nodes`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectQuery("SELECT RELEASE_LOCK\\(\\?\\)").
		WithArgs("menu_order:root").
		WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK(?)"}).AddRow(1))

	err := repo.WithSiblingLock(nil, func(txRepo MenuRepository) error {
		return txRepo.Create(&model.MenuNode{UID: "uid-1", Name: "Shop", Slug: "shop", SortOrder: 1})
	})
	if err != nil {
		t.Fatalf("WithSiblingLock() error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMenuRepository_WithSiblingLock_Timeout(t *testing.T) {
	repo, mock := newMockMenuRepo(t)

	// GET_LOCK 超时返回 0，应视为获取失败，事务和回调都不应发生
	mock.ExpectQuery("SELECT GET_LOCK\\(\\?, \\?\\)").
		WithArgs("menu_order:7", siblingLockWaitSeconds).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK(?, ?)"}).AddRow(0))

	parentID := uint(7)
	called := false
	err := repo.WithSiblingLock(&parentID, func(MenuRepository) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatalf("expected error when lock acquisition times out")
	}
	if called {
		t.Fatalf("callback must not run without the lock")
	}
}

// 回调失败走 ROLLBACK，锁同样在回滚之后才释放
func TestMenuRepository_WithSiblingLock_ReleasesAfterRollback(t *testing.T) {
	repo, mock := newMockMenuRepo(t)

	mock.ExpectQuery("SELECT GET_LOCK\\(\\?, \\?\\)").
		WithArgs("menu_order:7", siblingLockWaitSeconds).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK(?, ?)"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT RELEASE_LOCK\\(\\?\\)").
		WithArgs("menu_order:7").
		WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK(?)"}).AddRow(1))

	parentID := uint(7)
	wantErr := errors.New("boom")
	err := repo.WithSiblingLock(&parentID, func(MenuRepository) error {
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected callback error, got: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSiblingLockKey(t *testing.T) {
	if got := siblingLockKey(nil); got != "menu_order:root" {
		t.Fatalf("unexpected root key: %q", got)
	}
	parentID := uint(42)
	if got := siblingLockKey(&parentID); got != "menu_order:42" {
		t.Fatalf("unexpected sibling key: %q", got)
	}
}

func TestIsDuplicateEntry(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"mysql 1062", &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry 'shop' for key 'menu_nodes.slug'"}, true},
		{"mysql other", &mysqldriver.MySQLError{Number: 1213, Message: "Deadlock found"}, false},
		{"wrapped 1062", fmt.Errorf("create node: %w", &mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"}), true},
		{"gorm duplicated key", gorm.ErrDuplicatedKey, true},
		{"text fallback", errors.New("Error 1062: Duplicate entry 'a-2' for key 'slug'"), true},
		{"unrelated", errors.New("connection refused"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsDuplicateEntry(tc.err); got != tc.want {
				t.Fatalf("IsDuplicateEntry(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
