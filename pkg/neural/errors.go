package neural

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by any training or inference call made
	// before InitializeNetwork.
	ErrNotInitialized = errors.New("neural: engine not initialized, call InitializeNetwork first")

	// ErrInsufficientData is returned when the replay buffer holds fewer
	// experiences than a batch needs. Recoverable: wait for more data.
	ErrInsufficientData = errors.New("neural: not enough buffered experiences")

	// ErrResetBudgetExceeded is terminal: the watchdog exhausted its reset
	// budget and training must halt.
	ErrResetBudgetExceeded = errors.New("neural: watchdog reset budget exceeded, training halted")
)

// ConfigError reports an invalid network or training configuration.
type ConfigError struct {
	Field string
	Value any
	Cause string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("neural: invalid config %s=%v: %s", e.Field, e.Value, e.Cause)
}

// ShapeError reports a tensor whose dimensions do not match the network
// configuration. Always a programming error, never recoverable at runtime.
type ShapeError struct {
	Layer    int
	Got      [2]int
	Expected [2]int
	Phase    string // "forward", "backward", "optimizer", "set-parameters"
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("neural: shape mismatch at layer %d during %s: got %dx%d, expected %dx%d",
		e.Layer, e.Phase, e.Got[0], e.Got[1], e.Expected[0], e.Expected[1])
}

// CheckpointError wraps checkpoint save/load failures with the file path.
type CheckpointError struct {
	Path string
	Op   string // "save" or "load"
	Err  error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("neural: checkpoint %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }
