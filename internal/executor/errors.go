package executor

// FailureKind classifies a pipeline failure so the worker's branching is
// data-driven rather than string matching.
type FailureKind string

const (
	// TransientGeneration: backend unreachable, timed out, or empty output. Retried.
	TransientGeneration FailureKind = "transient_generation"
	// InvalidGeneration: the output failed the syntax check. Retried.
	InvalidGeneration FailureKind = "invalid_generation"
	// TestFailure: the test command exited non-zero (124 = timeout). Retried.
	TestFailure FailureKind = "test_failure"
	// CommitProblem: staging/commit/push failed. Logged as a warning; the
	// task still completes.
	CommitProblem FailureKind = "commit_problem"
	// RepositoryMissing: the target alias is unknown or invalid. Not retried.
	RepositoryMissing FailureKind = "repository_missing"
	// Persistence: a store write kept failing. Fatal for the task only.
	Persistence FailureKind = "persistence"
)

// pipelineError carries a classified failure out of one pipeline stage.
type pipelineError struct {
	kind      FailureKind
	msg       string
	retriable bool
}

func (e *pipelineError) Error() string { return string(e.kind) + ": " + e.msg }

func failTransient(msg string) *pipelineError {
	return &pipelineError{kind: TransientGeneration, msg: msg, retriable: true}
}

func failInvalid(msg string) *pipelineError {
	return &pipelineError{kind: InvalidGeneration, msg: msg, retriable: true}
}

func failTests(msg string) *pipelineError {
	return &pipelineError{kind: TestFailure, msg: msg, retriable: true}
}

func failRepoMissing(msg string) *pipelineError {
	return &pipelineError{kind: RepositoryMissing, msg: msg, retriable: false}
}

func failPersistence(msg string) *pipelineError {
	return &pipelineError{kind: Persistence, msg: msg, retriable: false}
}
