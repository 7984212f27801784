// Package llm provides the stylist (vision) and voice (text-to-speech)
// clients. Vision supports OpenAI and Anthropic; speech uses OpenAI.
// Remote failures are classified into the common provider error classes.
package llm
