package errors

import (
	"sync"
)

// Collector accumulates diagnostics and general errors across a
// discovery or check pass. Safe for concurrent use.
type Collector struct {
	mutex       sync.RWMutex
	diagnostics []Diagnostic
	errors      []error
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// AddDiagnostics appends compiler diagnostics.
func (c *Collector) AddDiagnostics(diags ...Diagnostic) {
	if len(diags) == 0 {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.diagnostics = append(c.diagnostics, diags...)
}

// AddError appends a general error. Nil errors are ignored; errors
// carrying diagnostics contribute those as well.
func (c *Collector) AddError(err error) {
	if err == nil {
		return
	}
	if ce, ok := AsCompileError(err); ok {
		c.AddDiagnostics(ce.Diagnostics...)
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.errors = append(c.errors, err)
}

// Diagnostics returns a copy of the collected diagnostics.
func (c *Collector) Diagnostics() []Diagnostic {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	out := make([]Diagnostic, len(c.diagnostics))
	copy(out, c.diagnostics)
	return out
}

// Errors returns a copy of the collected errors.
func (c *Collector) Errors() []error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	out := make([]error, len(c.errors))
	copy(out, c.errors)
	return out
}

// HasErrors reports whether anything was collected.
func (c *Collector) HasErrors() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.errors) > 0 || len(c.diagnostics) > 0
}

// Clear drops everything collected so far.
func (c *Collector) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.diagnostics = nil
	c.errors = nil
}
