// Package timing records how long each checkout step took and summarises a
// session against its wall-clock target. Recording is observational only.
package timing

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"cartpilot/internal/locale"
)

// DefaultTarget is the wall-clock budget a session is judged against.
const DefaultTarget = 25 * time.Second

// Metric is one finished operation.
type Metric struct {
	Operation string
	Start     time.Time
	End       time.Time
	Success   bool
	Error     string
}

func (m Metric) Duration() time.Duration { return m.End.Sub(m.Start) }

// Recorder collects metrics for one session.
type Recorder struct {
	mu      sync.Mutex
	now     func() time.Time
	metrics []Metric
	// idle holds waits the session chose to make, such as a scheduled start.
	idle []Metric
}

func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// NewRecorderWithClock is used by tests to control time.
func NewRecorderWithClock(now func() time.Time) *Recorder {
	return &Recorder{now: now}
}

// Span is an operation in progress.
type Span struct {
	r     *Recorder
	op    string
	start time.Time
	idle  bool
	once  sync.Once
}

// Start begins timing op.
func (r *Recorder) Start(op string) *Span {
	return &Span{r: r, op: op, start: r.now()}
}

// Idle begins a deliberate wait. It is kept out of Metrics and its time is
// subtracted from the report total.
func (r *Recorder) Idle(op string) *Span {
	return &Span{r: r, op: op, start: r.now(), idle: true}
}

// End records the span. A nil err is a success. Only the first call counts.
func (s *Span) End(err error) time.Duration {
	var d time.Duration
	s.once.Do(func() {
		m := Metric{Operation: s.op, Start: s.start, End: s.r.now(), Success: err == nil}
		if err != nil {
			m.Error = err.Error()
		}
		d = m.Duration()
		s.r.mu.Lock()
		if s.idle {
			s.r.idle = append(s.r.idle, m)
		} else {
			s.r.metrics = append(s.r.metrics, m)
		}
		s.r.mu.Unlock()
	})
	return d
}

// Metrics returns a copy of the recorded metrics in completion order.
func (r *Recorder) Metrics() []Metric {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Metric, len(r.metrics))
	copy(out, r.metrics)
	return out
}

// Report summarises recorded metrics against target.
func (r *Recorder) Report(target time.Duration) Report {
	if target <= 0 {
		target = DefaultTarget
	}
	r.mu.Lock()
	idle := make([]Metric, len(r.idle))
	copy(idle, r.idle)
	r.mu.Unlock()
	return Report{Metrics: r.Metrics(), Idle: idle, Target: target}
}

type Report struct {
	Metrics []Metric
	// Idle waits are excluded from Total.
	Idle   []Metric
	Target time.Duration
}

// Total spans from the earliest start to the latest end, less any idle wait
// inside that window.
func (rep Report) Total() time.Duration {
	if len(rep.Metrics) == 0 {
		return 0
	}
	first, last := rep.Metrics[0].Start, rep.Metrics[0].End
	for _, m := range rep.Metrics[1:] {
		if m.Start.Before(first) {
			first = m.Start
		}
		if m.End.After(last) {
			last = m.End
		}
	}
	total := last.Sub(first)
	for _, w := range rep.Idle {
		start, end := w.Start, w.End
		if start.Before(first) {
			start = first
		}
		if end.After(last) {
			end = last
		}
		if end.After(start) {
			total -= end.Sub(start)
		}
	}
	return total
}

func (rep Report) MetBudget() bool { return rep.Total() <= rep.Target }

func (rep Report) Average() time.Duration {
	if len(rep.Metrics) == 0 {
		return 0
	}
	var sum time.Duration
	for _, m := range rep.Metrics {
		sum += m.Duration()
	}
	return sum / time.Duration(len(rep.Metrics))
}

// Slowest returns up to n metrics, longest first.
func (rep Report) Slowest(n int) []Metric {
	sorted := make([]Metric, len(rep.Metrics))
	copy(sorted, rep.Metrics)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Duration() > sorted[j].Duration() })
	if n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

func (rep Report) Failed() []Metric {
	var out []Metric
	for _, m := range rep.Metrics {
		if !m.Success {
			out = append(out, m)
		}
	}
	return out
}

func secs(d time.Duration) float64 { return d.Seconds() }

// WriteSummary prints the human summary shown at the end of a run.
func (rep Report) WriteSummary(w io.Writer) {
	total := rep.Total()
	failed := rep.Failed()

	fmt.Fprintln(w)
	fmt.Fprintln(w, locale.T("perf_header"))
	fmt.Fprintf(w, locale.T("perf_total")+"\n", secs(total))
	if rep.MetBudget() {
		fmt.Fprintf(w, locale.T("perf_target_met")+"\n", secs(rep.Target), secs(rep.Target-total))
	} else {
		fmt.Fprintf(w, locale.T("perf_target_missed")+"\n", secs(rep.Target), secs(total-rep.Target))
	}
	fmt.Fprintf(w, locale.T("perf_operations")+"\n", len(rep.Metrics), len(rep.Metrics)-len(failed), len(failed))
	if len(rep.Metrics) > 0 {
		fmt.Fprintf(w, locale.T("perf_average")+"\n", secs(rep.Average()))
	}

	if slowest := rep.Slowest(3); len(slowest) > 0 {
		fmt.Fprintln(w, locale.T("perf_slowest"))
		for i, m := range slowest {
			fmt.Fprintf(w, "  %d. %s: %.2fs %s\n", i+1, m.Operation, secs(m.Duration()), status(m.Success))
		}
	}
	if len(failed) > 0 {
		fmt.Fprintln(w, locale.T("perf_failed"))
		for _, m := range failed {
			fmt.Fprintf(w, "  - %s: %s\n", m.Operation, m.Error)
		}
	}
}

func status(ok bool) string {
	if ok {
		return "SUCCESS"
	}
	return "FAILED"
}

// WriteText writes the flat export format.
func (rep Report) WriteText(w io.Writer) error {
	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	printf("Performance Metrics Report\n")
	printf("==============================\n\n")
	for _, m := range rep.Metrics {
		printf("%s: %.2fs [%s]\n", m.Operation, secs(m.Duration()), status(m.Success))
		if m.Error != "" {
			printf("  Error: %s\n", m.Error)
		}
		printf("\n")
	}
	printf("\nTotal Time: %.2fs\n", secs(rep.Total()))
	printf("Target: <%.0fs\n", secs(rep.Target))
	if rep.MetBudget() {
		printf("Performance: MET\n")
	} else {
		printf("Performance: MISSED\n")
	}
	return err
}

// Export writes the text report to path.
func (rep Report) Export(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := rep.WriteText(f); err != nil {
		f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}
