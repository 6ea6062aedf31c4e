// Package provider defines the low-level driver interface for LLM inference
// backends. Each adapter (openaicompat, openai, anthropic, ollama) speaks
// its own wire protocol and exposes it through Request, Result and Event,
// keeping protocol details invisible to the backend layer that runs the
// tool loop.
package provider
