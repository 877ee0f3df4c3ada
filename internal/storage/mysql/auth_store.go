package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/NVibeAI/cfo-fpa-crew-ai/internal/auth"
)

// SQLAuthStore 将用户、角色与权限持久化到 MySQL，
// 实现 auth.Store 与 auth.SeedWriter 两个接口。
type SQLAuthStore struct {
	db *sql.DB
}

// NewSQLAuthStore 建立连接池并在启动时执行未应用的迁移。
func NewSQLAuthStore(ctx context.Context, cfg Config) (*SQLAuthStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLAuthStore{db: db}, nil
}

// Close 关闭底层连接池。
func (s *SQLAuthStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FindUserByUsername 按用户名查找用户，未命中时返回 sql.ErrNoRows。
func (s *SQLAuthStore) FindUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, password_hash, disabled FROM auth_users WHERE username = ?`,
		strings.TrimSpace(username))

	var user auth.User
	var disabled int
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("查询用户记录失败: %w", err)
	}
	user.Disabled = disabled == 1
	return &user, nil
}

// LoadSubject 加载主体信息，角色直连取自 auth_user_roles，
// 权限为角色授权与直接授权的并集。
func (s *SQLAuthStore) LoadSubject(ctx context.Context, userID int64) (*auth.Subject, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, username, disabled FROM auth_users WHERE id = ?`, userID)

	var subject auth.Subject
	var disabled int
	if err := row.Scan(&subject.ID, &subject.Username, &disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("查询主体信息失败: %w", err)
	}
	subject.Disabled = disabled == 1

	roles, err := s.queryNames(ctx, `SELECT r.name FROM auth_roles r
JOIN auth_user_roles ur ON ur.role_id = r.id
WHERE ur.user_id = ?`, subject.ID)
	if err != nil {
		return nil, err
	}
	subject.Roles = roles

	perms, err := s.queryNames(ctx, `SELECT DISTINCT p.name FROM auth_permissions p
JOIN auth_role_permissions rp ON rp.permission_id = p.id
JOIN auth_user_roles ur ON ur.role_id = rp.role_id
WHERE ur.user_id = ?
UNION
SELECT DISTINCT p.name FROM auth_permissions p
JOIN auth_user_permissions up ON up.permission_id = p.id
WHERE up.user_id = ?`, subject.ID, subject.ID)
	if err != nil {
		return nil, err
	}
	subject.Permissions = perms
	subject.Normalise()
	return &subject, nil
}

// queryNames 执行单列查询，返回去空格、小写、排序后的名称列表。
func (s *SQLAuthStore) queryNames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询名称列表失败: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("扫描名称失败: %w", err)
		}
		names = append(names, strings.ToLower(strings.TrimSpace(name)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历名称列表失败: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// ApplySeed 以事务方式写入种子账号：覆盖用户口令与禁用状态，
// 并把角色、权限补齐到配置声明的集合。
func (s *SQLAuthStore) ApplySeed(ctx context.Context, seed auth.Seed) error {
	username := strings.TrimSpace(seed.Username)
	if username == "" {
		return errors.New("seed username cannot be empty")
	}
	passwordHash, err := auth.HashPassword(seed.Password)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启种子事务失败: %w", err)
	}
	defer tx.Rollback()

	// id = LAST_INSERT_ID(id) 让重复插入时也能拿到已有行的主键。
	res, err := tx.ExecContext(ctx, `INSERT INTO auth_users (username, password_hash, disabled, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE password_hash = VALUES(password_hash), disabled = VALUES(disabled), updated_at = VALUES(updated_at), id = LAST_INSERT_ID(id)`,
		username, passwordHash, boolToInt(seed.Disabled), now, now)
	if err != nil {
		return fmt.Errorf("写入用户失败: %w", err)
	}
	userID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("读取用户ID失败: %w", err)
	}

	for _, role := range normalizeNames(seed.Roles) {
		roleID, err := upsertNamed(ctx, tx, "auth_roles", role, now)
		if err != nil {
			return err
		}
		if err := grant(ctx, tx, "auth_user_roles", "role_id", userID, roleID, now); err != nil {
			return err
		}
	}

	for _, perm := range normalizeNames(seed.Permissions) {
		permID, err := upsertNamed(ctx, tx, "auth_permissions", perm, now)
		if err != nil {
			return err
		}
		if err := grant(ctx, tx, "auth_user_permissions", "permission_id", userID, permID, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交种子事务失败: %w", err)
	}
	return nil
}

// upsertNamed 插入或复用一条命名记录（角色或权限），返回其主键。
func upsertNamed(ctx context.Context, tx *sql.Tx, table, name string, now int64) (int64, error) {
	query := fmt.Sprintf(`INSERT INTO %s (name, description, created_at, updated_at)
VALUES (?, '', ?, ?)
ON DUPLICATE KEY UPDATE updated_at = VALUES(updated_at), id = LAST_INSERT_ID(id)`, table)
	res, err := tx.ExecContext(ctx, query, name, now, now)
	if err != nil {
		return 0, fmt.Errorf("写入 %s 失败: %w", table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("读取 %s 主键失败: %w", table, err)
	}
	return id, nil
}

// grant 在关联表中建立用户与角色或权限的绑定，重复绑定被忽略。
func grant(ctx context.Context, tx *sql.Tx, table, column string, userID, refID, now int64) error {
	query := fmt.Sprintf(`INSERT IGNORE INTO %s (user_id, %s, assigned_at) VALUES (?, ?, ?)`, table, column)
	if _, err := tx.ExecContext(ctx, query, userID, refID, now); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", table, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// normalizeNames 去重并统一为小写，空白项被丢弃。
func normalizeNames(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		seen[strings.ToLower(value)] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
