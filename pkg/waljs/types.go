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

package waljs

import (
	"time"

	"github.com/datazip-inc/olake-scaling/types"
	"github.com/jackc/pglogrepl"
)

const outputPlugin = "pgoutput"

type Config struct {
	// ConnString must open a replication connection (replication=database)
	ConnString      string
	ReplicationSlot string
	Publication     string
	// StandbyTimeout is the interval between standby status updates
	StandbyTimeout time.Duration
}

// TableInfo describes a captured relation and its identity columns
type TableInfo struct {
	Rule   types.TableRule
	Schema string
	Table  string
	Keys   []string
}

type ReplicationSlot struct {
	Plugin string        `db:"plugin"`
	LSN    pglogrepl.LSN `db:"confirmed_flush_lsn"`
}

// ToCheckpoint converts an LSN into a pipeline checkpoint
func ToCheckpoint(lsn pglogrepl.LSN) types.Checkpoint {
	return types.Checkpoint{Offset: uint64(lsn)}
}

// FromCheckpoint converts a pipeline checkpoint back into an LSN
func FromCheckpoint(cp types.Checkpoint) pglogrepl.LSN {
	return pglogrepl.LSN(cp.Offset)
}
