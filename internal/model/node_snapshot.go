package model

import "time"

// Utilization is the CPU usage computed between two counter snapshots.
// Total is work-weighted across all cores, not an average of PerCore.
type Utilization struct {
	PerCore CorePercents `json:"cpu"`
	Total   float64      `json:"cpu_total"`
}

type MemoryDetails struct {
	FreeMB        uint64 `json:"memfree_mb"`
	BuffersMB     uint64 `json:"buffers_mb"`
	CachedMB      uint64 `json:"cached_mb"`
	ReclaimableMB uint64 `json:"sreclaimable_mb"`
	SharedMB      uint64 `json:"shmem_mb"`
}

// MemoryReport uses the htop accounting:
// used = total - free - buffers - cached - sreclaimable + shmem.
type MemoryReport struct {
	TotalMB     uint64        `json:"mem_total_mb"`
	UsedMB      uint64        `json:"mem_used_mb"`
	FreeMB      uint64        `json:"mem_free_mb"`
	Percent     float64       `json:"mem_percent"`
	SwapTotalMB uint64        `json:"swap_total_mb"`
	SwapUsedMB  uint64        `json:"swap_used_mb"`
	SwapPercent float64       `json:"swap_percent"`
	Details     MemoryDetails `json:"details"`
}

type LoadAverage struct {
	Load1        float64 `json:"load_1"`
	Load5        float64 `json:"load_5"`
	Load15       float64 `json:"load_15"`
	ProcsRunning uint64  `json:"procs_running"`
	ProcsTotal   uint64  `json:"procs_total"`
}

// ReportGauges are the server-wide counters extracted from runtime reports.
// Every field is summed across report lines except MaxHTTP and MaxHTTPS,
// which keep the largest value seen.
type ReportGauges struct {
	ReqProcessing int64   `json:"total_req_processing"`
	ReqPerSec     float64 `json:"total_req_per_sec"`
	TotalReqs     int64   `json:"total_tot_reqs"`
	PHPBusy       int64   `json:"php_busy"`
	PHPIdle       int64   `json:"php_idle"`
	HTTPActive    int64   `json:"http_act"`
	HTTPSActive   int64   `json:"https_act"`
	MaxHTTP       int64   `json:"max_http"`
	MaxHTTPS      int64   `json:"max_https"`
}

// NodeSnapshot is the document served by every node's metrics endpoint.
type NodeSnapshot struct {
	NodeID        string      `json:"node_id"`
	Hostname      string      `json:"hostname"`
	OS            string      `json:"os"`
	Timestamp     time.Time   `json:"timestamp"`
	Uptime        string      `json:"uptime"`
	UptimeSeconds float64     `json:"uptime_seconds"`
	LoadAvg       string      `json:"loadavg"`
	Load          LoadAverage `json:"load"`
	Utilization
	Memory  MemoryReport   `json:"memory"`
	Domains DomainCounters `json:"domains"`
	Totals  DomainTotals   `json:"totals"`
	ReportGauges
}
