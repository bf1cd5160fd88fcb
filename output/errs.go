package output

import "fmt"

// The sink reports five failure kinds so the hosting pipeline can pick
// between failing the transaction, aborting a task and resuming it,
// without matching on error strings.

// ConfigError fails the whole transaction before any task runs. It is
// never retried.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// AuthError surfaces invalid credentials or an inaccessible bucket at
// client construction time, before the task stages any data.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("s3 access check failed, check the access key pair and bucket configuration: %s", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IOError covers local temp-file create/write/delete failures. Fatal to
// the current task attempt.
type IOError struct {
	Msg string
	Err error
}

func (e *IOError) Error() string { return fmt.Sprintf("%s: %s", e.Msg, e.Err) }

func (e *IOError) Unwrap() error { return e.Err }

// UploadError covers remote transmission failures. The sink does not
// retry; the pipeline's resume protocol is the only retry path, which is
// safe because a resumed task re-derives the same object keys.
type UploadError struct {
	Err error
}

func (e *UploadError) Error() string { return fmt.Sprintf("chunk upload failed: %s", e.Err) }

func (e *UploadError) Unwrap() error { return e.Err }

// StateError marks misuse of the writer lifecycle, such as writing
// before a chunk is open. Fatal immediately.
type StateError struct {
	Msg string
}

func (e *StateError) Error() string { return e.Msg }
