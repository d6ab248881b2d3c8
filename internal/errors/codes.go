package errors

// Category classifies errors by subsystem.
type Category string

const (
	CategoryConfig   Category = "config"
	CategoryIO       Category = "io"
	CategoryExtract  Category = "extract"
	CategoryEmbed    Category = "embed"
	CategoryIndex    Category = "index"
	CategoryCatalog  Category = "catalog"
	CategoryLease    Category = "lease"
	CategoryInternal Category = "internal"
)

// Severity indicates how an error should surface to the operator.
type Severity string

const (
	// SeverityWarning errors are recorded against a file or op and the run continues.
	SeverityWarning Severity = "warning"
	// SeverityError errors fail the current operation but not the run.
	SeverityError Severity = "error"
	// SeverityFatal errors abort the run (lease conflict, unreadable catalog).
	SeverityFatal Severity = "fatal"
)

// Error codes. The numeric band encodes the category:
// 1xx config, 2xx file/IO, 3xx extraction, 4xx embedding, 5xx index stores,
// 6xx catalog, 7xx lease/guard, 9xx internal.
const (
	ErrCodeConfigInvalid    = "ERR_101_CONFIG_INVALID"
	ErrCodeRootNotFound     = "ERR_102_ROOT_NOT_FOUND"
	ErrCodeNoEmbedProvider  = "ERR_103_NO_EMBED_PROVIDER"
	ErrCodeFileNotFound     = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFileVanished     = "ERR_202_FILE_VANISHED"
	ErrCodeFileLocked       = "ERR_203_FILE_LOCKED"
	ErrCodeWatchFailed      = "ERR_204_WATCH_FAILED"
	ErrCodeExtractTransient = "ERR_301_EXTRACT_TRANSIENT"
	ErrCodeExtractPermanent = "ERR_302_EXTRACT_PERMANENT"
	ErrCodeEmbedUnavailable = "ERR_401_EMBED_UNAVAILABLE"
	ErrCodeEmbedFailed      = "ERR_402_EMBED_FAILED"
	ErrCodeIndexMutate      = "ERR_501_INDEX_MUTATE"
	ErrCodeIndexCommit      = "ERR_502_INDEX_COMMIT"
	ErrCodeCatalogIntegrity = "ERR_601_CATALOG_INTEGRITY"
	ErrCodeLeaseHeld        = "ERR_701_LEASE_HELD"
	ErrCodeInternal         = "ERR_901_INTERNAL"
)

// categoryFromCode derives the category from the code's numeric band.
func categoryFromCode(code string) Category {
	if len(code) < 5 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryExtract
	case '4':
		return CategoryEmbed
	case '5':
		return CategoryIndex
	case '6':
		return CategoryCatalog
	case '7':
		return CategoryLease
	default:
		return CategoryInternal
	}
}

// severityFromCode derives default severity from the code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCatalogIntegrity, ErrCodeLeaseHeld:
		return SeverityFatal
	case ErrCodeFileVanished, ErrCodeExtractTransient, ErrCodeFileLocked:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// retryableCodes are errors worth retrying with backoff.
var retryableCodes = map[string]bool{
	ErrCodeFileLocked:       true,
	ErrCodeExtractTransient: true,
	ErrCodeEmbedUnavailable: true,
	ErrCodeIndexMutate:      true,
}

// isRetryableCode reports whether the code represents a transient condition.
func isRetryableCode(code string) bool {
	return retryableCodes[code]
}
