// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
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


package flashprog

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// debugEnabled routes debug lines to the console as well as the session log.
var debugEnabled = os.Getenv("FLASHPROG_DEBUG") != "" || os.Getenv("DEBUG") != ""

var debugConsole = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05.000",
}).With().Timestamp().Logger()

// Debugf records a protocol trace line. The session log gets every line;
// the console only when debugging is enabled.
func Debugf(format string, args ...any) {
	debugLine(fmt.Sprintf(format, args...))
}

// Debugln is Debugf with fmt.Sprint formatting.
func Debugln(args ...any) {
	debugLine(fmt.Sprint(args...))
}

func debugLine(message string) {
	writeSessionLine("DEBUG", message)
	if debugEnabled {
		debugConsole.Debug().Msg(message)
	}
}

// SetDebugEnabled turns console debug output on or off.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

func timestamp() string {
	return time.Now().Format("15:04:05.000")
}
