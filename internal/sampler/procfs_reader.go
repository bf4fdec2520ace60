// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package sampler

import (
	"cmp"
	"slices"

	"github.com/prometheus/procfs"
	"github.com/sustainable-computing-io/smaragdine/internal/dataset"
)

// userHZ is the number of clock ticks per second
// hardcoded just like in procfs
const userHZ = 100

// activityReader reads the CPU time counters of the host and of the threads
// of one process. Timestamps of the returned samples are left to the caller.
type activityReader interface {
	// CPUs returns one sample per logical CPU, ordered by CPU
	CPUs() ([]dataset.CPUSample, error)

	// Tasks returns one sample per thread of pid, ordered by thread id
	Tasks(pid int) ([]dataset.TaskSample, error)

	// Alive returns an error when pid does not exist
	Alive(pid int) error
}

// procFSReader is the default implementation of activityReader using procfs
type procFSReader struct {
	fs procfs.FS
}

var _ activityReader = (*procFSReader)(nil)

// newProcFSReader creates a reader of the procfs mounted at path
func newProcFSReader(path string) (*procFSReader, error) {
	fs, err := procfs.NewFS(path)
	if err != nil {
		return nil, err
	}
	return &procFSReader{fs: fs}, nil
}

func (r *procFSReader) CPUs() ([]dataset.CPUSample, error) {
	stat, err := r.fs.Stat()
	if err != nil {
		return nil, err
	}

	cpus := make([]dataset.CPUSample, 0, len(stat.CPU))
	for id, c := range stat.CPU {
		cpus = append(cpus, dataset.CPUSample{
			CPU:     int(id),
			User:    c.User,
			Nice:    c.Nice,
			System:  c.System,
			Idle:    c.Idle,
			IOWait:  c.Iowait,
			IRQ:     c.IRQ,
			SoftIRQ: c.SoftIRQ,
			Steal:   c.Steal,
		})
	}
	slices.SortFunc(cpus, func(a, b dataset.CPUSample) int {
		return cmp.Compare(a.CPU, b.CPU)
	})
	return cpus, nil
}

func (r *procFSReader) Tasks(pid int) ([]dataset.TaskSample, error) {
	threads, err := r.fs.AllThreads(pid)
	if err != nil {
		return nil, err
	}

	tasks := make([]dataset.TaskSample, 0, len(threads))
	for _, thread := range threads {
		st, err := thread.Stat()
		if err != nil {
			// the thread exited after the task directory was listed
			continue
		}
		tasks = append(tasks, dataset.TaskSample{
			Task:   thread.PID,
			CPU:    int(st.Processor),
			User:   float64(st.UTime) / userHZ,
			System: float64(st.STime) / userHZ,
		})
	}
	slices.SortFunc(tasks, func(a, b dataset.TaskSample) int {
		return cmp.Compare(a.Task, b.Task)
	})
	return tasks, nil
}

func (r *procFSReader) Alive(pid int) error {
	_, err := r.fs.Proc(pid)
	return err
}
