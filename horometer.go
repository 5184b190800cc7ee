package fastbit

import (
	"syscall"
	"time"
)

// Horometer is a primitive timer tracking both wall-clock and CPU time,
// ported from horometer.h. Start clears and (re)starts the timer; Stop
// accumulates elapsed time since the last Start/Resume; Resume continues
// accumulating after a Stop without clearing totals.
type Horometer struct {
	startReal, totalReal time.Time
	startCPU             time.Duration
	totalCPU             time.Duration
	running              bool
}

// NewHorometer returns a stopped, zeroed timer.
func NewHorometer() *Horometer {
	return &Horometer{}
}

// Start clears accumulated totals and begins timing.
func (h *Horometer) Start() {
	h.startReal = time.Now()
	h.startCPU = readCPUClock()
	h.totalReal = time.Time{}
	h.totalCPU = 0
	h.running = true
}

// Stop accumulates elapsed wall and CPU time since Start/Resume.
func (h *Horometer) Stop() {
	if !h.running {
		return
	}
	elapsedReal := time.Since(h.startReal)
	h.totalReal = h.totalReal.Add(elapsedReal)
	h.totalCPU += readCPUClock() - h.startCPU
	h.running = false
}

// Resume continues timing without clearing totals.
func (h *Horometer) Resume() {
	h.startReal = time.Now()
	h.startCPU = readCPUClock()
	h.running = true
}

// RealSeconds returns accumulated wall-clock time in seconds.
func (h *Horometer) RealSeconds() float64 {
	return h.totalReal.Sub(time.Time{}).Seconds()
}

// CPUSeconds returns accumulated CPU time (user+sys) in seconds.
func (h *Horometer) CPUSeconds() float64 {
	return h.totalCPU.Seconds()
}

// readCPUClock reads accumulated user+system CPU time for this process,
// mirroring horometer.h's getrusage(RUSAGE_SELF, ...) path (the children
// branch does not apply: Go programs do not fork).
func readCPUClock() time.Duration {
	var ru syscall.Rusage
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	user := time.Duration(ru.Utime.Sec)*time.Second + time.Duration(ru.Utime.Usec)*time.Microsecond
	sys := time.Duration(ru.Stime.Sec)*time.Second + time.Duration(ru.Stime.Usec)*time.Microsecond
	return user + sys
}
