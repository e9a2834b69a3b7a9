// Copyright 2026 LiveKit, Inc.
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

package shm

import (
	"fmt"

	"github.com/pbnjay/memory"
	"golang.org/x/sys/unix"

	"github.com/livekit/darkcyan/pkg/errors"
)

// checkCapacity refuses allocations the platform cannot back: more than the
// filesystem holding the segments has free, or more than physical memory.
func checkCapacity(dir string, required uint64) error {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return fmt.Errorf("%w: statfs %s: %v", errors.ErrAllocationFailed, dir, err)
	}

	if available := st.Bavail * uint64(st.Bsize); required > available {
		return errors.ErrInsufficientMemory(required, available)
	}
	if total := memory.TotalMemory(); total > 0 && required > total {
		return errors.ErrInsufficientMemory(required, total)
	}
	return nil
}
