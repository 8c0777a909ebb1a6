package storage

import "gorm.io/gorm/clause"

// OnConflictUpdate builds an upsert clause that replaces every column on
// a conflicting primary key, the shape every control-plane repository
// uses for its Touch/Set-style upserts (firewalls, settings, router-MAC
// rules).
func OnConflictUpdate(primaryKeyColumns ...string) clause.OnConflict {
	columns := make([]clause.Column, len(primaryKeyColumns))
	for i, c := range primaryKeyColumns {
		columns[i] = clause.Column{Name: c}
	}
	return clause.OnConflict{
		Columns:   columns,
		UpdateAll: true,
	}
}
