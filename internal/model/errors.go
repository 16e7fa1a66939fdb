package model

import "fmt"

// Machine readable failure codes written to ConversionJob.Error.Code.
const (
	CodeProcessorInvocationFailed = "PROCESSOR_INVOCATION_FAILED"
	CodeInputMetadataMissing      = "INPUT_METADATA_MISSING"
	CodeInputMetadataUnavailable  = "INPUT_METADATA_UNAVAILABLE"
	CodeDownloadFailed            = "DOWNLOAD_FAILED"
	CodeConversionFailed          = "CONVERSION_FAILED"
	CodeUploadFailed              = "UPLOAD_FAILED"
	CodeSigningFailed             = "SIGNING_FAILED"
	CodeProcessingError           = "PROCESSING_ERROR"
)

// JobError is a fatal pipeline error that carries the code recorded on the
// job when it is marked FAILED.
type JobError struct {
	Code    string
	Message string
	Err     error
}

// NewJobError wraps err with a failure code and a short human readable prefix.
func NewJobError(code, message string, err error) *JobError {
	return &JobError{Code: code, Message: message, Err: err}
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Info converts the error into the form persisted on the job.
func (e *JobError) Info() ErrorInfo {
	return ErrorInfo{Code: e.Code, Message: e.Error()}
}
