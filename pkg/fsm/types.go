package fsm

// ImportRequest is the FSM input
type ImportRequest struct {
	// Source is a local file path, or an object key when FromS3 is set.
	Source string
	FromS3 bool
	Bucket string
}

// ImportResponse is the FSM output (accumulated across transitions)
type ImportResponse struct {
	// From Fetch
	SHA256       string
	DownloadPath string
	DownloadSize int64

	// From Validate
	PayloadOffset int
	PayloadSize   int64

	// From Stage
	ImportID int64

	// From Complete/Failed
	Status       string
	ErrorMessage string
}

// State names
const (
	StateFetch    = "fetch"
	StateValidate = "validate"
	StateStage    = "stage"
	StateComplete = "complete"
	StateFailed   = "failed"
)

// StatusStaged is reported once the candidate is staged for the next boot.
const StatusStaged = "staged"
