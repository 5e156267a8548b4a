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

package protocol

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datazip-inc/olake-scaling/destination"
	"github.com/datazip-inc/olake-scaling/types"
	"github.com/datazip-inc/olake-scaling/utils"
	"github.com/datazip-inc/olake-scaling/utils/logger"
)

type ConnectionStatus string

const (
	ConnectionSucceed ConnectionStatus = "SUCCEEDED"
	ConnectionFailed  ConnectionStatus = "FAILED"
)

// StatusRow is the outcome of checking one side of a job
type StatusRow struct {
	Side    string           `json:"side"`
	Status  ConnectionStatus `json:"status"`
	Message string           `json:"message,omitempty"`
}

// checkCmd validates the job config and connects to its source and target
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the job config and the connections it names",
	RunE: func(cmd *cobra.Command, _ []string) error {
		job, err := loadJob()
		if err != nil {
			return err
		}

		rows := []StatusRow{
			statusRow("source", checkSource(cmd.Context(), job)),
			statusRow("target", checkTarget(cmd.Context(), job)),
		}
		failed := 0
		for _, row := range rows {
			logger.Info(row)
			if row.Status == ConnectionFailed {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d connection checks failed", failed, len(rows))
		}
		return nil
	},
}

func statusRow(side string, err error) StatusRow {
	row := StatusRow{Side: side, Status: ConnectionSucceed}
	if err != nil {
		row.Status = ConnectionFailed
		row.Message = err.Error()
	}
	return row
}

// checkSource verifies connectivity and the settings change capture needs
func checkSource(ctx context.Context, job *types.JobConfig) error {
	driver, err := registry.Driver(job.Source.Type)
	if err != nil {
		return err
	}
	if err := driver.Setup(ctx, job.Source); err != nil {
		return err
	}
	return utils.ErrExecSequential(
		func() error { return driver.Check(ctx) },
		func() error {
			for _, rule := range job.Tables {
				if _, err := driver.KeyColumns(ctx, rule.Source); err != nil && len(rule.KeyColumns) == 0 {
					return err
				}
			}
			return nil
		},
		driver.Close,
	)
}

func checkTarget(ctx context.Context, job *types.JobConfig) error {
	init, err := registry.Importer(job.Target.Type)
	if err != nil {
		return err
	}
	writers, err := destination.NewWriter(ctx, job.WriterConfig(), init)
	if err != nil {
		return err
	}
	return writers.Close()
}
