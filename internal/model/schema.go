// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package model

// ColumnInfo is one inspected column of a source table.
type ColumnInfo struct {
	Name                   string  `json:"name"`
	DataType               string  `json:"data_type"`
	UDTName                string  `json:"udt_name,omitempty"`
	IsNullable             bool    `json:"is_nullable"`
	ColumnDefault          *string `json:"column_default,omitempty"`
	CharacterMaximumLength *int32  `json:"character_maximum_length,omitempty"`
}

// TableInfo is the inspected definition of a table. Indexes and Constraints
// hold DDL fragments exactly as the server reports them.
type TableInfo struct {
	Name        string       `json:"name"`
	Columns     []ColumnInfo `json:"columns"`
	Indexes     []string     `json:"indexes"`
	Constraints []string     `json:"constraints"`
}

// Column returns the inspected column with the given name.
func (t TableInfo) Column(name string) (ColumnInfo, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnInfo{}, false
}
