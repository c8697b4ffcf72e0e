package models

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// HistoryFilter selects one page of capture or relay history, newest first.
type HistoryFilter struct {
	Kind   WorkKind `json:"kind"`
	Offset int      `json:"offset"`
	Limit  int      `json:"limit"`
}

// Normalize fills defaults and clamps the page bounds.
func (f *HistoryFilter) Normalize() {
	if f.Kind == "" {
		f.Kind = KindCapture
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Limit <= 0 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Limit > MaxHistoryLimit {
		f.Limit = MaxHistoryLimit
	}
}

// HistoryPage answers GET /history.
type HistoryPage struct {
	HistoryFilter
	Items []*HistoryRecord `json:"items"`
}
