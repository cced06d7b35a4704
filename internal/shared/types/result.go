package types

// AddStatus enumerates the terminal and decision states of an ingestion.
type AddStatus string

const (
	AddedOK        AddStatus = "success"
	AddCancelled   AddStatus = "cancelled"
	NeedsSelection AddStatus = "needs_selection"
	IsDuplicate    AddStatus = "duplicate"
	AddFailed      AddStatus = "error"
)

// AddResult is the tagged outcome of an ingestion attempt. Exactly one of
// Entry, Pending, Duplicate or Err is set, matching Status.
type AddResult struct {
	Status    AddStatus
	Entry     *SoftwareEntry
	Pending   *PendingAddition
	Duplicate *DuplicateInfo
	Err       error
}

// Success builds a successful result carrying the finalized entry.
func Success(entry *SoftwareEntry) AddResult {
	return AddResult{Status: AddedOK, Entry: entry}
}

// Cancelled builds a result for a caller-cancelled ingestion.
func Cancelled() AddResult {
	return AddResult{Status: AddCancelled}
}

// Selection builds a result asking the caller to choose an executable.
func Selection(pending *PendingAddition) AddResult {
	return AddResult{Status: NeedsSelection, Pending: pending}
}

// Duplicated builds a result describing a conflict the caller must resolve.
func Duplicated(info *DuplicateInfo) AddResult {
	return AddResult{Status: IsDuplicate, Duplicate: info}
}

// Failure builds a terminal error result.
func Failure(err error) AddResult {
	return AddResult{Status: AddFailed, Err: err}
}
