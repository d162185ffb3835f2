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


// Package flashprog drives up to four flash targets in lock-step through a
// gang-programming adapter.
//
// A Session owns the channel array of one run. It frames commands for the
// target's serial boot protocol, broadcasts them to every active channel and
// compares the answers bit by bit in the adapter, so a single exchange tells
// which channels diverged. Faulting channels are reported to a
// MismatchPolicy, which either stops the run or drops them and carries on
// with the rest.
//
// Basic usage:
//
//	p, _ := profile.Builtin("generic-threewire")
//	t, _ := adapter.New("/dev/ttyUSB0")
//	defer t.Close()
//
//	s, err := flashprog.NewSession(t, p,
//		flashprog.WithJob(flashprog.Job{AllSectors: flashprog.FlagsAll}),
//		flashprog.WithImage(image),
//		flashprog.WithPolicy(flashprog.DisableFailing),
//	)
//	if err != nil {
//		return err
//	}
//	for _, mode := range []flashprog.OperationMode{
//		flashprog.ModeErase, flashprog.ModeProgram, flashprog.ModeVerify,
//	} {
//		if err := s.Run(ctx, mode); err != nil {
//			return err
//		}
//	}
//
// Devices with a lockable secure region are tracked per channel. One-way
// configuration steps such as lock bits or serial-programming disable are
// only issued by ModeSecure, and only after every memory area of that mode
// has completed.
package flashprog
