// Package migrations 内嵌认证存储所需的 SQL 迁移脚本，
// 由 internal/storage/mysql 在启动时按版本号顺序应用。
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
