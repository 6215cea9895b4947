package models

import "time"

// ExecutionStage tracks an action request through the executor.
type ExecutionStage string

// Executor stages.
const (
	StageValidated  ExecutionStage = "validated"
	StageCompiled   ExecutionStage = "compiled"
	StageExecuted   ExecutionStage = "executed"
	StageNormalised ExecutionStage = "normalised"
	StageDone       ExecutionStage = "done"
	StageFailed     ExecutionStage = "failed"
)

// ExecutionResult is the normalised outcome of an action.
type ExecutionResult struct {
	Success    bool           `json:"success"`
	Data       []Row          `json:"data"`
	RowCount   int            `json:"row_count"`
	ActionUsed ActionName     `json:"action_used"`
	SQL        string         `json:"sql_executed,omitempty"`
	Message    string         `json:"message"`
	Stage      ExecutionStage `json:"stage"`
	// Aggregate marks statistics results whose rows are not students.
	Aggregate   bool             `json:"aggregate,omitempty"`
	Certificate *CertificateInfo `json:"certificate,omitempty"`
	ErrorCode   string           `json:"error_code,omitempty"`
	Duration    time.Duration    `json:"-"`
}

// Failed builds an unsuccessful result.
func Failed(action ActionName, code, message string) *ExecutionResult {
	return &ExecutionResult{
		Success:    false,
		Data:       []Row{},
		ActionUsed: action,
		Message:    message,
		Stage:      StageFailed,
		ErrorCode:  code,
	}
}

// CertificateInfo describes a rendered certificate.
type CertificateInfo struct {
	StudentID   int64             `json:"student_id"`
	StudentName string            `json:"student_name"`
	Kind        string            `json:"kind"`
	Preview     bool              `json:"preview"`
	Path        string            `json:"path"`
	Token       string            `json:"token,omitempty"`
	DownloadURL string            `json:"download_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	IssuedAt    time.Time         `json:"issued_at"`
}
