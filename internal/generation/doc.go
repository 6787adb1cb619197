// Package generation turns a captured InputContext into the two feedback
// texts of a task: the learning-weakness assessment and the solution guidance.
//
// The Client renders a prompt per field from text/template files and sends it
// to a TextProvider. Providers live under internal/platform (Gemini, any
// OpenAI-compatible endpoint, Ollama) and are selected at configuration time.
// The Client never retries and never fails as a whole: a field whose provider
// call fails carries a fallback message instead, so a succeeded task always
// has both texts.
package generation
