package ports

import "time"

// OperationObserver receives the outcome of every service operation.
type OperationObserver interface {
	ObserveOperation(operation, outcome string, started time.Time)
}
