// Package limiter enforces the absolute hard caps on linear memory growth
// and host-side resource-table population described in spec.md §4.3.
//
// wazero enforces the memory cap natively via
// wazero.RuntimeConfig.WithMemoryLimitPages, whose page count sandbox's
// engine computes with its own memoryLimitPages (rounding up), not with the
// Pages helper below; Limiter additionally derives the resource-table
// budget, since wazero has no guest-visible table to cap — it sizes the
// host-side handle table in sandbox/hostimport/restable.go, which enforces
// it on insert.
//
// Grounded on original_source/crates/isola/src/internal/resource.rs's
// MemoryLimiter, including its table-budget derivation
// (max(max_memory/64, 1024)).
package limiter

const (
	// tableElementBudgetBytes is the memory-byte cost attributed to one
	// resource-table slot when deriving the table budget from the memory
	// budget.
	tableElementBudgetBytes = 64
	// minTableElements floors the derived table budget so a tiny memory
	// cap doesn't starve a sandbox of basic iterator/future handles.
	minTableElements = 1024
	// wasmPageSize is the linear-memory page size wazero (and core wasm)
	// uses for WithMemoryLimitPages.
	wasmPageSize = 64 * 1024
)

// Limiter enforces the hard memory cap and the derived resource-table cap
// for one sandbox instance.
type Limiter struct {
	maxMemoryHard       uint64
	maxTableElementsHard uint64
}

// New derives a Limiter from a hard memory cap, in bytes.
func New(maxMemoryHard uint64) *Limiter {
	budget := maxMemoryHard / tableElementBudgetBytes
	if budget < minTableElements {
		budget = minTableElements
	}
	return &Limiter{maxMemoryHard: maxMemoryHard, maxTableElementsHard: budget}
}

// MaxMemoryHard returns the configured hard memory cap in bytes.
func (l *Limiter) MaxMemoryHard() uint64 {
	return l.maxMemoryHard
}

// MaxTableElementsHard returns the derived resource-table cap.
func (l *Limiter) MaxTableElementsHard() uint64 {
	return l.maxTableElementsHard
}

// MemoryGrowing reports whether a linear-memory growth to desired bytes is
// permitted.
func (l *Limiter) MemoryGrowing(desired uint64) bool {
	return desired <= l.maxMemoryHard
}

// TableGrowing reports whether a resource-table growth to desired elements
// is permitted.
func (l *Limiter) TableGrowing(desired uint64) bool {
	return desired <= l.maxTableElementsHard
}

// Pages converts the hard memory cap to a wazero memory-limit page count,
// rounding down, for use with wazero.RuntimeConfig.WithMemoryLimitPages.
func (l *Limiter) Pages() uint32 {
	pages := l.maxMemoryHard / wasmPageSize
	if pages > 0xFFFFFFFF {
		pages = 0xFFFFFFFF
	}
	return uint32(pages)
}
