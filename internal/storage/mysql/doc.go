// Package mysql provides data access helpers backed by MySQL. It
// encapsulates connection pooling, schema migrations, and the SQL-backed
// credential store used when authentication runs against a real database.
package mysql
