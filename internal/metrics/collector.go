package metrics

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// clockTicks is USER_HZ on every mainstream Linux build
const clockTicks = 100

// ProcessSource lists running supervised processes by server name
type ProcessSource interface {
	RunningPIDs() map[string]int
}

// Collector samples CPU and memory of supervised processes from /proc
type Collector struct {
	source   ProcessSource
	procRoot string
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex

	cpuSamples map[string]cpuSample
	latest     map[string]Usage
}

// Usage is the most recent resource sample of one server process
type Usage struct {
	PID           int       `json:"pid"`
	CPUPercent    float64   `json:"cpu_percent"`
	ResidentBytes float64   `json:"resident_bytes"`
	SampledAt     time.Time `json:"sampled_at"`
}

type cpuSample struct {
	timestamp time.Time
	pid       int
	ticks     float64
}

type procStats struct {
	ticks         float64
	residentBytes float64
}

// NewCollector creates a collector polling every interval
func NewCollector(source ProcessSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:     source,
		procRoot:   "/proc",
		interval:   interval,
		stopCh:     make(chan struct{}),
		cpuSamples: make(map[string]cpuSample),
		latest:     make(map[string]Usage),
	}
}

// Start begins sampling in the background. It is a no-op without /proc.
func (c *Collector) Start() {
	if _, err := os.Stat(c.procRoot); err != nil {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.collectAll()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts sampling and waits for the loop to exit
func (c *Collector) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Collector) collectAll() {
	running := c.source.RunningPIDs()
	now := time.Now()

	for server, pid := range running {
		stats, err := readProcStats(c.procRoot, pid)
		if err != nil {
			continue
		}
		processResident.WithLabelValues(server).Set(stats.residentBytes)
		usage, ok := c.calculateCPUUsage(server, pid, stats.ticks, now)
		if ok {
			processCPU.WithLabelValues(server).Set(usage)
		}

		c.mu.Lock()
		c.latest[server] = Usage{PID: pid, CPUPercent: usage, ResidentBytes: stats.residentBytes, SampledAt: now}
		c.mu.Unlock()
	}

	c.mu.Lock()
	for server := range c.cpuSamples {
		if _, ok := running[server]; !ok {
			delete(c.cpuSamples, server)
			delete(c.latest, server)
			processCPU.DeleteLabelValues(server)
			processResident.DeleteLabelValues(server)
		}
	}
	c.mu.Unlock()
}

// Latest returns the last sample for server while its process is running
func (c *Collector) Latest(server string) (Usage, bool) {
	if c == nil {
		return Usage{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.latest[server]
	return u, ok
}

func (c *Collector) calculateCPUUsage(server string, pid int, ticks float64, now time.Time) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.cpuSamples[server]
	c.cpuSamples[server] = cpuSample{timestamp: now, pid: pid, ticks: ticks}
	if !ok || prev.pid != pid {
		return 0, false
	}

	elapsed := now.Sub(prev.timestamp).Seconds()
	if elapsed <= 0 || ticks < prev.ticks {
		return 0, false
	}

	usage := (ticks - prev.ticks) / clockTicks / elapsed * 100
	if usage < 0 {
		usage = 0
	}
	return usage, true
}

func readProcStats(procRoot string, pid int) (*procStats, error) {
	statFile, err := os.Open(filepath.Join(procRoot, strconv.Itoa(pid), "stat"))
	if err != nil {
		return nil, err
	}
	defer statFile.Close()

	ticks, err := parseProcStat(statFile)
	if err != nil {
		return nil, err
	}

	statusFile, err := os.Open(filepath.Join(procRoot, strconv.Itoa(pid), "status"))
	if err != nil {
		return nil, err
	}
	defer statusFile.Close()

	rss, err := parseResident(statusFile)
	if err != nil {
		return nil, err
	}

	return &procStats{ticks: ticks, residentBytes: rss}, nil
}

// parseProcStat returns utime+stime from /proc/<pid>/stat. The command name
// may contain spaces so fields are counted after the closing parenthesis.
func parseProcStat(reader io.Reader) (float64, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return 0, err
	}
	line := string(data)
	end := strings.LastIndex(line, ")")
	if end < 0 {
		return 0, fmt.Errorf("malformed stat line")
	}

	// fields[0] is state (field 3); utime and stime are fields 14 and 15
	fields := strings.Fields(line[end+1:])
	if len(fields) < 13 {
		return 0, fmt.Errorf("short stat line")
	}
	utime, err := strconv.ParseFloat(fields[11], 64)
	if err != nil {
		return 0, err
	}
	stime, err := strconv.ParseFloat(fields[12], 64)
	if err != nil {
		return 0, err
	}
	return utime + stime, nil
}

// parseResident returns VmRSS in bytes from /proc/<pid>/status
func parseResident(reader io.Reader) (float64, error) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("malformed VmRSS line")
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("VmRSS not found")
}
