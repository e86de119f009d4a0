package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"git.handmade.network/hmn/tutorials/src/logging"
	"git.handmade.network/hmn/tutorials/src/perf"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPerfOps = 50

func NewPrivateRoutes(perfCollector *perf.PerfCollector) http.Handler {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.Mount("/debug", middleware.Profiler())
	router.Get("/perf", func(w http.ResponseWriter, r *http.Request) {
		n := defaultPerfOps
		if v, err := strconv.Atoi(r.URL.Query().Get("n")); err == nil && v > 0 {
			n = v
		}
		records := PerfRecords(perfCollector.GetPerfCopy().Slowest(n))

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			logging.Error().Err(err).Msg("Failed to write perf data")
		}
	})
	return router
}

type FlameItem struct {
	Offset      int64 // microseconds from the start of the operation
	Duration    int64
	Category    string
	Description string
	Children    []*FlameItem
	End         time.Time  `json:"-"`
	Parent      *FlameItem `json:"-"`
}

type PerfRecord struct {
	Name      string
	Duration  int64
	Breakdown *FlameItem
}

// PerfRecords nests each operation's blocks by time: a block that ends within
// the previous one is drawn inside it.
func PerfRecords(ops []*perf.OpPerf) []PerfRecord {
	records := []PerfRecord{}
	for _, op := range ops {
		record := PerfRecord{
			Name:     op.Name,
			Duration: op.Duration().Microseconds(),
			Breakdown: &FlameItem{
				Duration: op.Duration().Microseconds(),
				End:      op.End,
			},
		}

		parent := record.Breakdown
		for _, block := range op.Blocks {
			for parent.Parent != nil && block.End.After(parent.End) {
				parent = parent.Parent
			}
			flame := FlameItem{
				Offset:      block.Start.Sub(op.Start).Microseconds(),
				Duration:    block.End.Sub(block.Start).Microseconds(),
				Category:    block.Category,
				Description: block.Description,
				End:         block.End,
				Parent:      parent,
			}
			parent.Children = append(parent.Children, &flame)
			parent = &flame
		}

		records = append(records, record)
	}
	return records
}
