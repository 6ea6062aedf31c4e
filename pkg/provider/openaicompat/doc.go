// Package openaicompat implements provider.Provider for any backend that
// speaks the OpenAI Chat Completions protocol over plain HTTP (vLLM,
// LiteLLM, llama.cpp, LocalAI and similar). It handles request
// serialization, response parsing, SSE chunk streaming, tool call argument
// buffering and error classification.
package openaicompat
