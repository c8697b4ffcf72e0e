// FilePath: server/meterhub/internal/models/models.artifact.go
package models

// Artifact is an uploaded meter image. TS is the capture timestamp in unix
// milliseconds and is the only ordering used to decide which image is latest.
type Artifact struct {
	TS         int64   `json:"ts"`
	Ref        string  `json:"ref"`
	Reading    string  `json:"reading,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Empty reports whether nothing has been published yet.
func (a Artifact) Empty() bool {
	return a.TS == 0 && a.Ref == ""
}

// AnalysisResult is what the OCR collaborator returns for a meter image.
// Raw and Warning are set instead of Reading when the model did not answer
// with strict JSON.
type AnalysisResult struct {
	Reading    string  `json:"reading,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Notes      string  `json:"notes,omitempty"`
	Raw        string  `json:"raw,omitempty"`
	Warning    string  `json:"warning,omitempty"`
}

// HasReading reports whether the model produced a structured reading.
func (r AnalysisResult) HasReading() bool {
	return r.Reading != ""
}
