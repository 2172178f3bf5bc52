package errs

const (
	ExitPass          = 0
	ExitNotFound      = 10
	ExitConfiguration = 11
	ExitInvalidInput  = 12
	ExitVerdictFail   = 13
	ExitStageFailure  = 14
)

// ExitCode maps an error to the CLI exit code for its kind.
func ExitCode(err error) int {
	if err == nil {
		return ExitPass
	}
	switch KindOf(err) {
	case KindNotFound:
		return ExitNotFound
	case KindConfiguration:
		return ExitConfiguration
	case KindInvalidInput:
		return ExitInvalidInput
	default:
		return ExitStageFailure
	}
}
