// Package ledger tracks per-tool reliability statistics across sessions.
package ledger

import (
	"sort"
	"sync"

	"github.com/vinayprograms/agentkit/logging"
)

// DefaultErrorWindow is the number of recent error messages kept per tool.
const DefaultErrorWindow = 5

// UnknownScore is the score of a tool with no recorded calls.
const UnknownScore = 0.5

// Stats is the reliability record for one tool.
type Stats struct {
	TotalCalls       int      `json:"total_calls"`
	SuccessfulCalls  int      `json:"successful_calls"`
	FailedCalls      int      `json:"failed_calls"`
	AvgExecutionTime float64  `json:"avg_execution_time"`
	LastErrors       []string `json:"last_errors"`
}

// SuccessRate returns successful/total, or UnknownScore with no calls.
func (s Stats) SuccessRate() float64 {
	if s.TotalCalls == 0 {
		return UnknownScore
	}
	return float64(s.SuccessfulCalls) / float64(s.TotalCalls)
}

func (s Stats) clone() Stats {
	s.LastErrors = append([]string{}, s.LastErrors...)
	return s
}

// Store persists the whole ledger.
type Store interface {
	Load() (map[string]Stats, error)
	Save(map[string]Stats) error
}

type entry struct {
	mu    sync.Mutex
	stats Stats
}

// Ledger is safe for concurrent use. Updates to one tool never block updates
// to another; only the write to the store is serialized.
type Ledger struct {
	entries     sync.Map // tool name -> *entry
	store       Store
	errorWindow int
	writeMu     sync.Mutex
	logger      *logging.Logger
}

// Open loads the ledger from store. A nil store keeps the ledger in memory.
// Load failures are logged and yield an empty ledger.
func Open(store Store, errorWindow int) *Ledger {
	if errorWindow <= 0 {
		errorWindow = DefaultErrorWindow
	}
	l := &Ledger{
		store:       store,
		errorWindow: errorWindow,
		logger:      logging.New().WithComponent("ledger"),
	}
	if store == nil {
		return l
	}

	loaded, err := store.Load()
	if err != nil {
		l.logger.Warn("could not load tool ledger, starting empty", map[string]interface{}{
			"error": err.Error(),
		})
		return l
	}
	for name, st := range loaded {
		l.entries.Store(name, &entry{stats: st.clone()})
	}
	return l
}

// Record adds one call outcome for tool and persists the ledger.
func (l *Ledger) Record(tool string, success bool, durationSeconds float64, errMsg string) Stats {
	v, _ := l.entries.LoadOrStore(tool, &entry{})
	e := v.(*entry)

	e.mu.Lock()
	st := &e.stats
	st.TotalCalls++
	if success {
		st.SuccessfulCalls++
	} else {
		st.FailedCalls++
		if errMsg != "" {
			st.LastErrors = append(st.LastErrors, errMsg)
			if over := len(st.LastErrors) - l.errorWindow; over > 0 {
				st.LastErrors = append([]string{}, st.LastErrors[over:]...)
			}
		}
	}
	n := float64(st.TotalCalls)
	st.AvgExecutionTime = (st.AvgExecutionTime*(n-1) + durationSeconds) / n
	out := st.clone()
	e.mu.Unlock()

	l.flush()
	return out
}

// Score returns the tool's success rate, or UnknownScore for unseen tools.
func (l *Ledger) Score(tool string) float64 {
	st, ok := l.Get(tool)
	if !ok {
		return UnknownScore
	}
	return st.SuccessRate()
}

// Get returns a copy of the tool's stats.
func (l *Ledger) Get(tool string) (Stats, bool) {
	v, ok := l.entries.Load(tool)
	if !ok {
		return Stats{}, false
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats.clone(), true
}

// Snapshot returns a copy of every tool's stats.
func (l *Ledger) Snapshot() map[string]Stats {
	out := make(map[string]Stats)
	l.entries.Range(func(k, v interface{}) bool {
		e := v.(*entry)
		e.mu.Lock()
		out[k.(string)] = e.stats.clone()
		e.mu.Unlock()
		return true
	})
	return out
}

// Tools returns the tracked tool names, sorted.
func (l *Ledger) Tools() []string {
	var names []string
	l.entries.Range(func(k, _ interface{}) bool {
		names = append(names, k.(string))
		return true
	})
	sort.Strings(names)
	return names
}

func (l *Ledger) flush() {
	if l.store == nil {
		return
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err := l.store.Save(l.Snapshot()); err != nil {
		l.logger.Warn("failed to persist tool ledger", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
