package store

import (
	"github.com/itskum47/tierroute/control_plane/task"
)

// ClassStatistics aggregates the records routed to one class.
type ClassStatistics struct {
	Count            int     `json:"count"`
	AvgExecutionTime float64 `json:"avg_execution_time"`
	TotalCost        float64 `json:"total_cost"`
}

// Statistics is the history report. SuccessRate is Successful/Total, or 0 for
// an empty history. Only classes with at least one record appear in ByClass.
type Statistics struct {
	ByClass     map[task.Class]ClassStatistics `json:"node_statistics"`
	Total       int                            `json:"total_tasks"`
	Successful  int                            `json:"successful_tasks"`
	SuccessRate float64                        `json:"success_rate"`
}

// classAggregate is one GROUP BY row.
type classAggregate struct {
	class      task.Class
	count      int
	successful int
	sumExec    float64
	sumCost    float64
}

func buildStatistics(groups []classAggregate) Statistics {
	stats := Statistics{ByClass: make(map[task.Class]ClassStatistics, len(groups))}
	for _, g := range groups {
		if g.count == 0 {
			continue
		}
		stats.ByClass[g.class] = ClassStatistics{
			Count:            g.count,
			AvgExecutionTime: g.sumExec / float64(g.count),
			TotalCost:        g.sumCost,
		}
		stats.Total += g.count
		stats.Successful += g.successful
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
	}
	return stats
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultQueryLimit
	}
	return limit
}
