package handler

const (
	errInternalServer = "Internal server error"
	errTaskNotFound    = "Task not found"
	errUnauthorized    = "Unauthorized"
)
