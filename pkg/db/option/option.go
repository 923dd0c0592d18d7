// Package option provides composable query options for the generic
// repository.
package option

import "gorm.io/gorm"

// QueryOption mutates a gorm query before execution.
type QueryOption interface {
	Apply(*gorm.DB) *gorm.DB
}

type optionFunc func(*gorm.DB) *gorm.DB

func (f optionFunc) Apply(db *gorm.DB) *gorm.DB { return f(db) }

// WithOrderBy orders results by the given clause.
func WithOrderBy(clause string) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB { return db.Order(clause) })
}

// WithLimit caps the number of returned rows.
func WithLimit(limit int) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB { return db.Limit(limit) })
}

// WithWhere adds a raw condition.
func WithWhere(query any, args ...any) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB { return db.Where(query, args...) })
}

// WithPreload eager-loads an association.
func WithPreload(association string, args ...any) QueryOption {
	return optionFunc(func(db *gorm.DB) *gorm.DB { return db.Preload(association, args...) })
}
