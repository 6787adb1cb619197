// Package gemini implements generation.TextProvider on top of Google's Gemini
// API using the google.golang.org/genai client.
//
// The provider performs exactly one GenerateContent call per Complete. It does
// not retry: a failed call is classified into a generation failure kind and
// the caller decides what to do with it. Safety blocks, both on the prompt and
// on the candidate, are reported as generation.ErrContentBlocked.
package gemini
