// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fusedebug provides the flag-gated trace logger shared by the
// session loop and device endpoint when no caller-supplied logger is
// configured.
package fusedebug

import (
	"flag"
	"io"
	"io/ioutil"
	"log"
	"os"
	"sync"
)

var fEnableDebug = flag.Bool(
	"fused.debug",
	false,
	"Write fused debugging messages to stderr.")

var (
	gLogger     *log.Logger
	gLoggerOnce sync.Once
)

func initLogger() {
	var writer io.Writer = ioutil.Discard
	if flag.Parsed() && *fEnableDebug {
		writer = os.Stderr
	}

	const flags = log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile
	gLogger = log.New(writer, "fused: ", flags)
}

// Logger returns the process-wide debug logger, lazily initialized on
// first use so callers never need to order this against flag.Parse.
func Logger() *log.Logger {
	gLoggerOnce.Do(initLogger)
	return gLogger
}
