// Copyright 2018-2019 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package debug provides a gated trace logger for the hot per-chunk and
// per-notification paths where a structured logging call would be too
// costly to leave compiled in.
package debug

import (
	"fmt"
	"log"
	"os"
)

// Enable turns debug tracing on or off. Off by default.
var Enable = os.Getenv("OPCUA_DEBUG") != ""

// Printf writes a trace line when Enable is true.
func Printf(format string, v ...interface{}) {
	if !Enable {
		return
	}
	log.Output(2, fmt.Sprintf(format, v...))
}
