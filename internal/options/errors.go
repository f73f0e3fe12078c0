package options

import "fmt"

// ConfigError reports one option value that could not be used. Set is 0 for
// global keys.
type ConfigError struct {
	Set   int
	Key   string
	Value any
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Set > 0 {
		return fmt.Sprintf("set %d: %s=%v: %v", e.Set, e.Key, e.Value, e.Err)
	}
	return fmt.Sprintf("%s=%v: %v", e.Key, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
