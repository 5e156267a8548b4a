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

package safego

import (
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/datazip-inc/olake-scaling/utils/logger"
)

var startTime = time.Now()

// Guard turns a panic of the surrounding function into an error stored in err.
// Use as: defer safego.Guard(&err)
func Guard(err *error) {
	if r := recover(); r != nil {
		logStack(r)
		*err = fmt.Errorf("recovered from panic: %v", r)
	}
}

// Recovery logs a panic with its stack; only the binary entrypoint passes exit=true
func Recovery(exit bool) {
	if r := recover(); r != nil {
		logStack(r)
		if exit {
			logger.Infof("Time of execution %v", time.Since(startTime).String())
			os.Exit(1)
		}
	}
}

func logStack(r any) {
	logger.Error(r)
	for _, str := range strings.Split(string(debug.Stack()), "\n") {
		logger.Error(strings.ReplaceAll(str, "\t", ""))
	}
}
