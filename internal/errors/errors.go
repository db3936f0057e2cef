package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrConfirmationDeclined is returned when the user answers anything but yes
// to a confirmation prompt. It marks a deliberate no-op, not a failure.
var ErrConfirmationDeclined = errors.New("confirmation declined")

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error: an unreadable, unparseable or
// undeterminable source, or a missing/invalid field.
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
	Err        error
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

func (e ConfigError) Unwrap() error {
	return e.Err
}

// SchemaViolation is returned when the configuration does not validate
// against its schema.
type SchemaViolation struct {
	Schema   string
	Problems []string
}

func (e SchemaViolation) Error() string {
	msg := "configuration failed schema validation"
	if e.Schema != "" {
		msg += fmt.Sprintf(" (schema: %s)", e.Schema)
	}
	if len(e.Problems) > 0 {
		msg += ":\n  - " + strings.Join(e.Problems, "\n  - ")
	}
	return msg
}

// CryptoError is returned when an encrypted configuration fragment cannot be
// decrypted: wrong keyring, missing key or corrupt ciphertext.
type CryptoError struct {
	Fragment string
	Path     string
	Home     string
	Message  string
	Err      error
}

func (e CryptoError) Error() string {
	msg := "decryption failed"
	if e.Fragment != "" {
		msg += fmt.Sprintf(" for <%s>", e.Fragment)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Home != "" {
		msg += fmt.Sprintf(" using keyring home %s", e.Home)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e CryptoError) Unwrap() error {
	return e.Err
}

// AuthError is returned for an unmatched authentication declaration or a
// login the backend rejected.
type AuthError struct {
	Method  string
	Message string
	Err     error
}

func (e AuthError) Error() string {
	msg := "authentication failed"
	if e.Method != "" {
		msg += fmt.Sprintf(" (method: %s)", e.Method)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e AuthError) Unwrap() error {
	return e.Err
}

// MountErrorKind distinguishes mount failures
type MountErrorKind int

const (
	UnknownMount MountErrorKind = iota + 1
	UnsupportedOperation
	CreateFailed
)

func (k MountErrorKind) String() string {
	switch k {
	case UnknownMount:
		return "unknown mount"
	case UnsupportedOperation:
		return "unsupported operation"
	case CreateFailed:
		return "mount creation failed"
	default:
		return "mount error"
	}
}

// MountError reports an unknown mount or an operation a variant cannot serve
type MountError struct {
	Kind      MountErrorKind
	Mount     string
	Variant   string
	Operation string
	Err       error
}

func (e MountError) Error() string {
	msg := e.Kind.String()
	if e.Mount != "" {
		msg += fmt.Sprintf(" %q", e.Mount)
	}
	if e.Operation != "" {
		msg += fmt.Sprintf(" (operation: %s)", e.Operation)
	}
	if e.Variant != "" {
		msg += fmt.Sprintf(" (variant: %s)", e.Variant)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e MountError) Unwrap() error {
	return e.Err
}

// PathErrorKind distinguishes path failures
type PathErrorKind int

const (
	NotFound PathErrorKind = iota + 1
	AlreadyExists
	IsDirectory
)

func (k PathErrorKind) String() string {
	switch k {
	case NotFound:
		return "does not exist"
	case AlreadyExists:
		return "already exists"
	case IsDirectory:
		return "is a directory"
	default:
		return "path error"
	}
}

// PathError reports a missing secret or directory, or an already-exists
// conflict on write.
type PathError struct {
	Kind  PathErrorKind
	Mount string
	Path  string
	Key   string
	Err   error
}

func (e PathError) Error() string {
	target := e.Mount + ":" + e.Path
	if e.Key != "" {
		target += fmt.Sprintf(" (%s)", e.Key)
	}
	msg := fmt.Sprintf("%s %s", target, e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e PathError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a PathError of kind NotFound
func IsNotFound(err error) bool {
	var pe PathError
	return errors.As(err, &pe) && pe.Kind == NotFound
}

// SealError is returned when the backend stays sealed or is uninitialized
type SealError struct {
	Message string
	Err     error
}

func (e SealError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "backend is sealed"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e SealError) Unwrap() error {
	return e.Err
}

// BackendError wraps a failure returned by the secret-storage service with
// the operation context it happened in.
type BackendError struct {
	Op      string
	Mount   string
	Path    string
	Variant string
	Err     error
}

func (e BackendError) Error() string {
	msg := e.Op
	if e.Mount != "" || e.Path != "" {
		msg += " " + e.Mount + ":" + e.Path
	}
	if e.Variant != "" {
		msg += fmt.Sprintf(" [%s]", e.Variant)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e BackendError) Unwrap() error {
	return e.Err
}

// Suggestion returns a hint for common backend failures, or "" when there is
// nothing useful to say.
func Suggestion(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "connection refused"), strings.Contains(errStr, "no such host"):
		return "Check that the server is running and <uri> (or VAULT_ADDR) points at it"
	case strings.Contains(errStr, "permission denied"):
		return "Check the policies attached to your token for this path"
	case strings.Contains(errStr, "invalid token"), strings.Contains(errStr, "missing client token"):
		return "Your token may be expired or invalid; update <auth> in your configuration"
	case strings.Contains(errStr, "sealed"):
		return "Add an <unseal> shard to <server> or unseal the server manually"
	case strings.Contains(errStr, "tls"), strings.Contains(errStr, "x509"):
		return "Check TLS configuration (VAULT_CACERT, VAULT_SKIP_VERIFY)"
	case strings.Contains(errStr, "timeout"):
		return "The operation timed out. Check your network connection and try again"
	default:
		return ""
	}
}

// SimplifyError converts low-level parse failures into user-facing errors
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	// Already a user-friendly error
	var (
		ue UserError
		ce ConfigError
	)
	if errors.As(err, &ue) || errors.As(err, &ce) {
		return err
	}

	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	errStr := rootErr.Error()

	if strings.Contains(errStr, "XML syntax error") {
		return ConfigError{
			Message:    "Invalid XML document",
			Suggestion: "Check for unclosed tags and unescaped '&' or '<' characters",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or token policies",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	return err
}
