package v1alpha1

func StringToRunStatus(s string) RunStatus {
	switch s {
	case string(RunStatusQueued):
		return RunStatusQueued
	case string(RunStatusRunning):
		return RunStatusRunning
	case string(RunStatusWaitingForUser):
		return RunStatusWaitingForUser
	case string(RunStatusCompleted):
		return RunStatusCompleted
	case string(RunStatusFailed):
		return RunStatusFailed
	default:
		return RunStatusFailed
	}
}
