package query

import (
	"sort"
	"strings"
	"sync"

	"github.com/wbrown/janus-factdb/datalog"
)

// FunctionRegistry tracks which functions a query may call so that an
// unknown name or a wrong arity fails before execution
type FunctionRegistry struct {
	mu        sync.RWMutex
	functions map[string]FunctionMetadata
}

// FunctionMetadata describes a supported function
type FunctionMetadata struct {
	Name        string
	MinArgs     int
	MaxArgs     int // -1 for unlimited
	Description string
	// Source is set when the first argument must be a data source ($)
	Source bool
}

var builtins = []FunctionMetadata{
	{Name: "=", MinArgs: 1, MaxArgs: -1, Description: "all arguments equal"},
	{Name: "==", MinArgs: 1, MaxArgs: -1, Description: "all arguments numerically equal"},
	{Name: "!=", MinArgs: 1, MaxArgs: -1, Description: "arguments not all equal"},
	{Name: "not=", MinArgs: 1, MaxArgs: -1, Description: "arguments not all equal"},
	{Name: "<", MinArgs: 1, MaxArgs: -1, Description: "strictly increasing"},
	{Name: ">", MinArgs: 1, MaxArgs: -1, Description: "strictly decreasing"},
	{Name: "<=", MinArgs: 1, MaxArgs: -1, Description: "non-decreasing"},
	{Name: ">=", MinArgs: 1, MaxArgs: -1, Description: "non-increasing"},

	{Name: "+", MinArgs: 0, MaxArgs: -1, Description: "sum"},
	{Name: "-", MinArgs: 1, MaxArgs: -1, Description: "difference or negation"},
	{Name: "*", MinArgs: 0, MaxArgs: -1, Description: "product"},
	{Name: "/", MinArgs: 1, MaxArgs: -1, Description: "quotient"},
	{Name: "quot", MinArgs: 2, MaxArgs: 2, Description: "integer quotient"},
	{Name: "rem", MinArgs: 2, MaxArgs: 2, Description: "remainder, sign of dividend"},
	{Name: "mod", MinArgs: 2, MaxArgs: 2, Description: "modulus, sign of divisor"},
	{Name: "inc", MinArgs: 1, MaxArgs: 1, Description: "add one"},
	{Name: "dec", MinArgs: 1, MaxArgs: 1, Description: "subtract one"},
	{Name: "max", MinArgs: 1, MaxArgs: -1, Description: "greatest argument"},
	{Name: "min", MinArgs: 1, MaxArgs: -1, Description: "least argument"},

	{Name: "str", MinArgs: 0, MaxArgs: -1, Description: "concatenate printed arguments"},
	{Name: "subs", MinArgs: 2, MaxArgs: 3, Description: "substring by rune offsets"},
	{Name: "namespace", MinArgs: 1, MaxArgs: 1, Description: "namespace of a keyword"},
	{Name: "name", MinArgs: 1, MaxArgs: 1, Description: "name of a keyword or string"},
	{Name: "count", MinArgs: 1, MaxArgs: 1, Description: "length of a string or collection"},
	{Name: "re-find", MinArgs: 2, MaxArgs: 2, Description: "first regexp match"},
	{Name: "re-matches", MinArgs: 2, MaxArgs: 2, Description: "whole string regexp match"},
	{Name: "re-pattern", MinArgs: 1, MaxArgs: 1, Description: "compile a regexp"},
	{Name: "starts-with?", MinArgs: 2, MaxArgs: 2, Description: "string prefix test"},
	{Name: "ends-with?", MinArgs: 2, MaxArgs: 2, Description: "string suffix test"},
	{Name: "includes?", MinArgs: 2, MaxArgs: 2, Description: "substring test"},
	{Name: "upper-case", MinArgs: 1, MaxArgs: 1, Description: "upper case a string"},
	{Name: "lower-case", MinArgs: 1, MaxArgs: 1, Description: "lower case a string"},

	{Name: "zero?", MinArgs: 1, MaxArgs: 1, Description: "number is zero"},
	{Name: "pos?", MinArgs: 1, MaxArgs: 1, Description: "number is positive"},
	{Name: "neg?", MinArgs: 1, MaxArgs: 1, Description: "number is negative"},
	{Name: "even?", MinArgs: 1, MaxArgs: 1, Description: "integer is even"},
	{Name: "odd?", MinArgs: 1, MaxArgs: 1, Description: "integer is odd"},
	{Name: "true?", MinArgs: 1, MaxArgs: 1, Description: "value is true"},
	{Name: "false?", MinArgs: 1, MaxArgs: 1, Description: "value is false"},
	{Name: "nil?", MinArgs: 1, MaxArgs: 1, Description: "value is nil"},
	{Name: "some?", MinArgs: 1, MaxArgs: 1, Description: "value is not nil"},

	{Name: "identity", MinArgs: 1, MaxArgs: 1, Description: "return the argument"},
	{Name: "ground", MinArgs: 1, MaxArgs: 1, Description: "bind a constant"},
	{Name: "tuple", MinArgs: 1, MaxArgs: -1, Description: "build a tuple"},
	{Name: "untuple", MinArgs: 1, MaxArgs: 1, Description: "destructure a tuple"},
	{Name: "vector", MinArgs: 0, MaxArgs: -1, Description: "build a vector"},

	{Name: "get-else", MinArgs: 4, MaxArgs: 4, Source: true, Description: "attribute value or default"},
	{Name: "get-some", MinArgs: 3, MaxArgs: -1, Source: true, Description: "first attribute with a value"},
	{Name: "missing?", MinArgs: 3, MaxArgs: 3, Source: true, Description: "entity has no value for attribute"},
	{Name: "fulltext", MinArgs: 3, MaxArgs: 3, Source: true, Description: "fulltext search"},
	{Name: "tx-ids", MinArgs: 3, MaxArgs: 3, Description: "transaction ids in a log range"},
	{Name: "tx-data", MinArgs: 2, MaxArgs: 2, Description: "datoms of a logged transaction"},
}

// DefaultRegistry holds the built-in functions
var DefaultRegistry = NewFunctionRegistry()

// NewFunctionRegistry returns a registry holding the built-in functions
func NewFunctionRegistry() *FunctionRegistry {
	r := &FunctionRegistry{functions: make(map[string]FunctionMetadata, len(builtins))}
	for _, meta := range builtins {
		r.Register(meta)
	}
	return r
}

// Clone copies the registry so functions can be added without touching
// the original
func (r *FunctionRegistry) Clone() *FunctionRegistry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := &FunctionRegistry{functions: make(map[string]FunctionMetadata, len(r.functions))}
	for k, v := range r.functions {
		out.functions[k] = v
	}
	return out
}

// Register adds a function to the registry
func (r *FunctionRegistry) Register(meta FunctionMetadata) {
	r.mu.Lock()
	r.functions[meta.Name] = meta
	r.mu.Unlock()
}

// IsRegistered checks if a function name is registered
func (r *FunctionRegistry) IsRegistered(name string) bool {
	_, ok := r.GetMetadata(name)
	return ok
}

// Validate checks a call's name and argument count
func (r *FunctionRegistry) Validate(name string, argCount int) error {
	meta, ok := r.GetMetadata(name)
	if !ok {
		return datalog.Queryf("unknown function '%s'", name)
	}
	if argCount < meta.MinArgs {
		return datalog.Queryf("function '%s' requires at least %d arguments, got %d",
			name, meta.MinArgs, argCount)
	}
	if meta.MaxArgs != -1 && argCount > meta.MaxArgs {
		return datalog.Queryf("function '%s' accepts at most %d arguments, got %d",
			name, meta.MaxArgs, argCount)
	}
	return nil
}

// ListFunctions returns a comma-separated list of registered functions
func (r *FunctionRegistry) ListFunctions() string {
	return strings.Join(r.Names(), ", ")
}

// Names returns the registered function names in sorted order
func (r *FunctionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetMetadata returns metadata for a function
func (r *FunctionRegistry) GetMetadata(name string) (FunctionMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.functions[name]
	return meta, ok
}
