// Package builtins provides pure-logic tools that need no network access:
// calculator and current_time. Their failures are permanent and they are
// safe to invoke more than once.
package builtins
