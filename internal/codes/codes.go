package codes

// Process exit codes returned by csx itself. A script that runs to completion
// exits with its own code instead.
const (
	Success           = 0
	GeneralFailure    = 1
	InvalidArguments  = 2
	CompileErrors     = 3
	ExecutionFailed   = 4
	ServerUnavailable = 5
	CacheFailure      = 6
)

// ErrorCodes maps csx exit codes to their descriptions
var ErrorCodes = map[int]string{
	Success:           "Success",
	GeneralFailure:    "General failure",
	InvalidArguments:  "Invalid arguments",
	CompileErrors:     "Compile errors",
	ExecutionFailed:   "Script execution failed",
	ServerUnavailable: "Build server is not running",
	CacheFailure:      "Cache could not be read or written",
}

// IsSuccess returns true if the exit code indicates success
func IsSuccess(code int) bool {
	return code == Success
}

// GetErrorMessage returns the error message for a given exit code, or a generic message if unknown
func GetErrorMessage(code int) string {
	if msg, ok := ErrorCodes[code]; ok {
		return msg
	}

	return "Unknown error"
}
