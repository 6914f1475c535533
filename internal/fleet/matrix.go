package fleet

import (
	"sort"
	"strings"

	"lsfleet-agent/internal/model"
)

// DomainRow is one virtual host across the fleet.
type DomainRow struct {
	Label   string                         `json:"domain"`
	PerNode map[string]model.DomainCounter `json:"nodes"`
	Total   model.DomainCounter            `json:"total"`
}

// Matrix pivots a FleetView into per-domain rows.
type Matrix struct {
	CycleID string            `json:"cycle_id"`
	Nodes   []string          `json:"nodes"`
	Failed  map[string]string `json:"failed"`
	Domains []DomainRow       `json:"domains"`
}

// DomainMatrix builds the per-domain view of one poll cycle. Failed nodes
// contribute nothing to the rows and are listed under Failed.
func DomainMatrix(v model.FleetView) Matrix {
	m := Matrix{
		CycleID: v.CycleID,
		Nodes:   []string{},
		Failed:  map[string]string{},
		Domains: []DomainRow{},
	}
	rows := make(map[string]*DomainRow)
	for _, node := range OrderedNodes(v) {
		res := v.Nodes[node]
		if !res.OK() {
			m.Failed[node] = res.Error
			continue
		}
		m.Nodes = append(m.Nodes, node)
		for _, dc := range res.Snapshot.Domains {
			row, ok := rows[dc.Label]
			if !ok {
				row = &DomainRow{
					Label:   dc.Label,
					PerNode: map[string]model.DomainCounter{},
					Total:   model.DomainCounter{Label: dc.Label},
				}
				rows[dc.Label] = row
			}
			row.PerNode[node] = dc
			row.Total.Add(dc)
		}
	}
	for _, row := range rows {
		m.Domains = append(m.Domains, *row)
	}
	sort.Slice(m.Domains, func(i, j int) bool {
		li, lj := strings.ToLower(m.Domains[i].Label), strings.ToLower(m.Domains[j].Label)
		if li != lj {
			return li < lj
		}
		return m.Domains[i].Label < m.Domains[j].Label
	})
	return m
}
