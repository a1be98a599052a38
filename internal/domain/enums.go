package domain

// Source records where an extracted field's bbox and confidence came from.
type Source string

const (
	SourceAnswerOnly       Source = "answer_only"
	SourceAnswerTemplate   Source = "answer+template"
	SourcePositionFallback Source = "position_fallback"
)

// ValidSources lists every provenance marker an ExtractedField may carry.
var ValidSources = map[Source]bool{
	SourceAnswerOnly:       true,
	SourceAnswerTemplate:   true,
	SourcePositionFallback: true,
}

// BatchStatus represents the lifecycle of a planned extraction batch.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusDone       BatchStatus = "done"
	BatchStatusFailed     BatchStatus = "failed"
)

// batchTransitions holds the only allowed forward moves. Batches are never retried in place.
var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusPending:    {BatchStatusInProgress},
	BatchStatusInProgress: {BatchStatusDone, BatchStatusFailed},
}

// CanTransition reports whether a batch may move from one status to another.
func CanTransition(from, to BatchStatus) bool {
	for _, next := range batchTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FieldType is the declared value type of a requested field.
type FieldType string

const (
	FieldTypeText   FieldType = "text"
	FieldTypeNumber FieldType = "number"
	FieldTypeAmount FieldType = "amount"
	FieldTypeDate   FieldType = "date"
)

// ValidFieldTypes maps accepted declared types.
var ValidFieldTypes = map[FieldType]bool{
	FieldTypeText:   true,
	FieldTypeNumber: true,
	FieldTypeAmount: true,
	FieldTypeDate:   true,
}
