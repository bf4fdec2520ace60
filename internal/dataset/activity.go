// SPDX-FileCopyrightText: 2025 The Smaragdine Authors
// SPDX-License-Identifier: Apache-2.0

package dataset

import "github.com/sustainable-computing-io/smaragdine/internal/accounting"

// CPUSample holds the cumulative time counters of one logical CPU as read
// from /proc/stat. Times are in seconds.
type CPUSample struct {
	Timestamp accounting.Timestamp `json:"timestamp"`
	CPU       int                  `json:"cpu"`
	User      float64              `json:"user"`
	Nice      float64              `json:"nice"`
	System    float64              `json:"system"`
	Idle      float64              `json:"idle"`
	IOWait    float64              `json:"iowait"`
	IRQ       float64              `json:"irq"`
	SoftIRQ   float64              `json:"softirq"`
	Steal     float64              `json:"steal"`
}

// Active returns the time the CPU spent doing work
func (c CPUSample) Active() float64 {
	return c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
}

// TaskSample holds the cumulative CPU time of one thread of the sampled
// process. CPU is the processor the thread last ran on. Times are in seconds.
type TaskSample struct {
	Timestamp accounting.Timestamp `json:"timestamp"`
	Task      int                  `json:"task"`
	CPU       int                  `json:"cpu"`
	User      float64              `json:"user"`
	System    float64              `json:"system"`
}
