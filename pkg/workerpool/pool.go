// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package workerpool

import "context"

// Executor runs submitted tasks asynchronously on a set of goroutines.
// The order in which tasks from different submitters are run is non-deterministic.
type Executor interface {
	// Submit schedules f to be run by the executor. It never blocks, and
	// returns an error only if the executor has been shut down.
	Submit(f func()) error

	// Shutdown stops accepting new tasks and drops the queued ones. It waits
	// for the running tasks to return until ctx is done.
	// Calling Shutdown more than once is a no-op.
	//
	// A task must not call Shutdown of its own executor, the call waits for
	// the task itself and only returns when ctx is done.
	Shutdown(ctx context.Context) error
}
