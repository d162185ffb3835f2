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
	"github.com/ZaparooProject/go-flashprog/internal/syncutil"
)

// FaultContext describes where a fault happened.
type FaultContext struct {
	Err     error
	Sector  int
	Address uint32
	Area    AreaKind
}

// MismatchPolicy decides whether a run continues after channels faulted. A
// true result disables the channels in mask for the rest of the session.
type MismatchPolicy interface {
	Resolve(mode OperationMode, mask ChannelMask, fc FaultContext) bool
}

// PolicyFunc adapts a function to MismatchPolicy.
type PolicyFunc func(mode OperationMode, mask ChannelMask, fc FaultContext) bool

// Resolve calls f.
func (f PolicyFunc) Resolve(mode OperationMode, mask ChannelMask, fc FaultContext) bool {
	return f(mode, mask, fc)
}

// DisableFailing continues with the remaining channels.
var DisableFailing MismatchPolicy = PolicyFunc(func(OperationMode, ChannelMask, FaultContext) bool {
	return true
})

// FailFast aborts on the first fault.
var FailFast MismatchPolicy = PolicyFunc(func(OperationMode, ChannelMask, FaultContext) bool {
	return false
})

// AbortSignal reports a host-level abort such as over-current or a changed
// adapter.
type AbortSignal interface {
	CheckAbort() bool
}

// AbortLatch is an AbortSignal raised from another goroutine, typically a
// signal handler or adapter monitor. Once raised it stays raised.
type AbortLatch struct {
	reason string
	mu     syncutil.Mutex
	raised bool
}

// Raise sets the latch. The first reason wins.
func (l *AbortLatch) Raise(reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.raised {
		l.raised = true
		l.reason = reason
	}
}

// CheckAbort implements AbortSignal.
func (l *AbortLatch) CheckAbort() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.raised
}

// Reason returns the reason passed to the first Raise.
func (l *AbortLatch) Reason() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

// Progress is reported after every dispatched sector.
type Progress struct {
	Mode   OperationMode
	Sector int
	Total  int
	Active ChannelMask
}
