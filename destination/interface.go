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

package destination

import (
	"context"

	"github.com/datazip-inc/olake-scaling/types"
	"github.com/jmoiron/sqlx"
)

// Importer applies merged batches to a target. One instance is owned by a
// single writer loop and is not safe for concurrent use.
type Importer interface {
	// Apply writes every record of the batch inside one transaction, either
	// all records become visible or none do
	Apply(ctx context.Context, batch *types.GroupedRecordBatch) error
	Close() error
}

// NewFunc builds an importer on a shared connection pool
type NewFunc func(client *sqlx.DB, config types.WriterConfig) Importer
