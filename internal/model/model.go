// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

// Package model holds the plain data types shared by the copy engine, the
// task tracker and the command layer. Every type here serializes to JSON and
// YAML so that job descriptions can be stored as opaque blobs and read from
// files.
package model

import (
	"fmt"
	"strings"
)

// Supported ssl_mode values. Any other value is treated as SSLModePrefer.
const (
	SSLModeRequire = "require"
	SSLModeDisable = "disable"
	SSLModePrefer  = "prefer"
)

// Supported SSH auth_type values.
const (
	AuthPassword   = "password"
	AuthPrivateKey = "private_key"
	AuthAgent      = "agent"
)

// DefaultSchema is the schema used when an endpoint does not name one.
const DefaultSchema = "public"

// SSHConfig describes the SSH hop used to reach a database endpoint.
type SSHConfig struct {
	Host           string `json:"host" yaml:"host"`
	Port           uint16 `json:"port" yaml:"port"`
	Username       string `json:"username" yaml:"username"`
	AuthType       string `json:"auth_type" yaml:"auth_type"`
	Password       string `json:"password,omitempty" yaml:"password,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty" yaml:"private_key_path,omitempty"`
	Passphrase     string `json:"passphrase,omitempty" yaml:"passphrase,omitempty"`
	// KnownHostsPath, if set, verifies the server key against a known_hosts file.
	KnownHostsPath string `json:"known_hosts_path,omitempty" yaml:"known_hosts_path,omitempty"`
	// HostKey pins the server key (authorized_keys format). Takes precedence over KnownHostsPath.
	HostKey string `json:"host_key,omitempty" yaml:"host_key,omitempty"`
}

// Addr returns host:port, defaulting the port to 22.
func (c SSHConfig) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// DatabaseConfig is one end of a copy job.
type DatabaseConfig struct {
	Host      string     `json:"host" yaml:"host"`
	Port      uint16     `json:"port" yaml:"port"`
	Database  string     `json:"database" yaml:"database"`
	Username  string     `json:"username" yaml:"username"`
	Password  string     `json:"password" yaml:"password"`
	SSLMode   string     `json:"ssl_mode" yaml:"ssl_mode"`
	Schema    string     `json:"schema,omitempty" yaml:"schema,omitempty"`
	SSHConfig *SSHConfig `json:"ssh_config,omitempty" yaml:"ssh_config,omitempty"`
}

// SchemaName returns the configured schema or DefaultSchema.
func (d DatabaseConfig) SchemaName() string {
	if strings.TrimSpace(d.Schema) == "" {
		return DefaultSchema
	}
	return d.Schema
}

// EffectivePort returns the configured port or 5432.
func (d DatabaseConfig) EffectivePort() uint16 {
	if d.Port == 0 {
		return 5432
	}
	return d.Port
}

// String renders user@host:port/database, never the password.
func (d DatabaseConfig) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", d.Username, d.Host, d.EffectivePort(), d.Database)
}

// MaskRuleType selects the masking transform.
type MaskRuleType string

const (
	MaskHash    MaskRuleType = "hash"
	MaskFixed   MaskRuleType = "fixed"
	MaskPattern MaskRuleType = "pattern"
)

// MaskRule redacts a column value. Pattern is the replacement for fixed
// rules and the template for pattern rules; it is unused by hash rules.
type MaskRule struct {
	RuleType MaskRuleType `json:"rule_type" yaml:"rule_type"`
	Pattern  *string      `json:"pattern,omitempty" yaml:"pattern,omitempty"`
}

// ChangeStatus marks tables or columns that appeared or disappeared since a
// configuration was saved.
type ChangeStatus string

const (
	StatusAdded   ChangeStatus = "added"
	StatusRemoved ChangeStatus = "removed"
)

// ColumnConfig is a column of a table job.
type ColumnConfig struct {
	Name     string        `json:"name" yaml:"name"`
	MaskRule *MaskRule     `json:"mask_rule,omitempty" yaml:"mask_rule,omitempty"`
	Ignore   bool          `json:"ignore" yaml:"ignore"`
	Status   *ChangeStatus `json:"status,omitempty" yaml:"status,omitempty"`
}

// TableConfig is a single table job.
type TableConfig struct {
	Name              string         `json:"name" yaml:"name"`
	Columns           []ColumnConfig `json:"columns" yaml:"columns"`
	StructureOnly     bool           `json:"structure_only" yaml:"structure_only"`
	IgnoreForeignKeys bool           `json:"ignore_foreign_keys" yaml:"ignore_foreign_keys"`
	Ignore            bool           `json:"ignore" yaml:"ignore"`
	Status            *ChangeStatus  `json:"status,omitempty" yaml:"status,omitempty"`
}

// Config is a named copy job: two endpoints and the tables to move.
type Config struct {
	Name     string         `json:"name" yaml:"name"`
	SourceDB DatabaseConfig `json:"source_db" yaml:"source_db"`
	TargetDB DatabaseConfig `json:"target_db" yaml:"target_db"`
	Tables   []TableConfig  `json:"tables" yaml:"tables"`
}

// ConfigSummary is a short, password-free description of a Config.
type ConfigSummary struct {
	SourceDB     string `json:"source_db"`
	TargetDB     string `json:"target_db"`
	TableCount   int    `json:"table_count"`
	TotalColumns int    `json:"total_columns"`
	HasSourceSSH bool   `json:"has_source_ssh"`
	HasTargetSSH bool   `json:"has_target_ssh"`
}

// Summarize builds the ConfigSummary of c.
func (c Config) Summarize() ConfigSummary {
	total := 0
	for _, t := range c.Tables {
		total += len(t.Columns)
	}
	return ConfigSummary{
		SourceDB:     c.SourceDB.String(),
		TargetDB:     c.TargetDB.String(),
		TableCount:   len(c.Tables),
		TotalColumns: total,
		HasSourceSSH: c.SourceDB.SSHConfig != nil,
		HasTargetSSH: c.TargetDB.SSHConfig != nil,
	}
}
