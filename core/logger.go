package core

// Logger is any service that can log application events.
// args may carry errors, map[string]interface{} extras or the logged in Operator.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Operator identifies the person driving the console; attached to log entries.
type Operator struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
}
