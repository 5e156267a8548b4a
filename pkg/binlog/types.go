/*
 * Copyright 2025 Olake By Datazip
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package binlog

import (
	"time"

	"github.com/datazip-inc/olake-scaling/types"
	"github.com/go-mysql-org/go-mysql/mysql"
)

// Config holds the configuration for the binlog syncer.
type Config struct {
	ServerID        uint32
	Flavor          string
	Host            string
	Port            uint16
	User            string
	Password        string
	Charset         string
	VerifyChecksum  bool
	HeartbeatPeriod time.Duration
}

// TableInfo describes a captured table: its rule, its columns in ordinal
// order and its key columns.
type TableInfo struct {
	Rule    types.TableRule
	Schema  string
	Columns []string
	Keys    []string
}

// ToCheckpoint converts a binlog position into a pipeline checkpoint
func ToCheckpoint(pos mysql.Position) types.Checkpoint {
	return types.Checkpoint{File: pos.Name, Offset: uint64(pos.Pos)}
}

// FromCheckpoint converts a pipeline checkpoint back into a binlog position
func FromCheckpoint(cp types.Checkpoint) mysql.Position {
	//nolint:gosec,G115
	return mysql.Position{Name: cp.File, Pos: uint32(cp.Offset)}
}
