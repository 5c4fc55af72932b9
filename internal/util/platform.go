package util

import (
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemInfo holds information about the host system.
type SystemInfo struct {
	Hostname     string `json:"hostname"`
	OS           string `json:"os"`
	Architecture string `json:"architecture"`
	CPUModel     string `json:"cpu_model"`
	CPUCores     int    `json:"cpu_cores"`
	TotalMemory  uint64 `json:"total_memory_mb"`
	GoVersion    string `json:"go_version"`
	Uptime       uint64 `json:"uptime_sec"`
}

// GetSystemInfo gathers host information. Fields that cannot be read are
// left empty.
func GetSystemInfo() SystemInfo {
	info := SystemInfo{
		OS:           runtime.GOOS,
		Architecture: runtime.GOARCH,
		CPUCores:     runtime.NumCPU(),
		GoVersion:    runtime.Version(),
	}

	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	if hostInfo, err := host.Info(); err == nil {
		info.OS = fmt.Sprintf("%s %s", hostInfo.Platform, hostInfo.PlatformVersion)
		info.Uptime = hostInfo.Uptime
	}
	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}
	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = memInfo.Total / (1024 * 1024)
	}
	return info
}

// ResourceUsage is a snapshot of host and process load.
type ResourceUsage struct {
	CPUPercent     float64 `json:"cpu_percent"`
	MemoryPercent  float64 `json:"memory_percent"`
	MemoryUsedMB   uint64  `json:"memory_used_mb"`
	DiskPercent    float64 `json:"disk_percent"`
	ProcessRSSMB   uint64  `json:"process_rss_mb"`
	ProcessThreads int32   `json:"process_threads"`
	Goroutines     int     `json:"goroutines"`
}

// GetResourceUsage samples CPU, memory and disk usage for the host and
// this process. diskPath selects the volume to report.
func GetResourceUsage(diskPath string) (ResourceUsage, error) {
	usage := ResourceUsage{Goroutines: runtime.NumGoroutine()}

	percentages, err := cpu.Percent(0, false)
	if err != nil {
		return usage, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(percentages) > 0 {
		usage.CPUPercent = percentages[0]
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return usage, fmt.Errorf("failed to read memory usage: %w", err)
	}
	usage.MemoryPercent = memInfo.UsedPercent
	usage.MemoryUsedMB = memInfo.Used / (1024 * 1024)

	if diskPath != "" {
		if d, err := disk.Usage(diskPath); err == nil {
			usage.DiskPercent = d.UsedPercent
		}
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memStat, err := proc.MemoryInfo(); err == nil {
			usage.ProcessRSSMB = memStat.RSS / (1024 * 1024)
		}
		if threads, err := proc.NumThreads(); err == nil {
			usage.ProcessThreads = threads
		}
	}
	return usage, nil
}
