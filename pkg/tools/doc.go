// Package tools defines the contract between generation backends and the
// callable tools they may invoke during an orchestrated call.
//
// A Tool carries its Definition (name, description, JSON Schema parameters)
// together with an explicit retry classification: Transient marks failures
// that are worth retrying, Idempotent marks tools that are safe to invoke
// twice for the same request. Both are declared by the tool author and are
// never inferred from the error value.
//
// The Interceptor decorates an Executor. Every successful invocation is
// appended, in completion order, to a record list that is safe to write from
// concurrent callers; failures are returned as *api.ToolExecutionError.
package tools
