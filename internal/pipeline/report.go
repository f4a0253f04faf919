package pipeline

import (
	"time"

	"github.com/ajitpratap0/metasync/pkg/models"
	"github.com/ajitpratap0/metasync/pkg/schema"
	"github.com/ajitpratap0/metasync/pkg/warehouse"
)

// TableReport is what a job did to one table.
type TableReport struct {
	Table   schema.LogicalTable `json:"table"`
	Mode    warehouse.WriteMode `json:"mode"`
	Deleted int64               `json:"deleted"`
	Written int64               `json:"written"`
}

// Report summarizes a finished job.
type Report struct {
	Job        string           `json:"job"`
	AccountIDs []string         `json:"account_ids"`
	Window     models.DateRange `json:"window"`
	Tables     []TableReport    `json:"tables"`
	// NoOp is set when update found nothing to catch up
	NoOp     bool          `json:"no_op"`
	Duration time.Duration `json:"duration"`
}

// RowsWritten sums written rows across tables.
func (r *Report) RowsWritten() int64 {
	var n int64
	for _, t := range r.Tables {
		n += t.Written
	}
	return n
}

// RowsDeleted sums deleted rows across tables.
func (r *Report) RowsDeleted() int64 {
	var n int64
	for _, t := range r.Tables {
		n += t.Deleted
	}
	return n
}

// Table returns the report of one table.
func (r *Report) Table(t schema.LogicalTable) (TableReport, bool) {
	for _, tr := range r.Tables {
		if tr.Table == t {
			return tr, true
		}
	}
	return TableReport{}, false
}
