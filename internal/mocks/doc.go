// Package mocks provides centralized mock implementations for testing.
//
// Each mock holds a function field per interface method. When a function is
// not set, the mock returns the default values stored in its fields, so a
// zero mock is usable in tests that only need a happy path.
//
// Usage:
//
//	import "github.com/phrazzld/scry-feedback-api/internal/mocks"
//
//	func TestSomething(t *testing.T) {
//	    gen := &mocks.MockGenerator{
//	        GenerateFn: func(ctx context.Context, in domain.InputContext) domain.Feedback {
//	            return domain.Feedback{WeaknessAssessment: "a", SolutionGuidance: "g"}
//	        },
//	    }
//
//	    // Use the mock in your test...
//	}
//
// When adding a new mock to this package:
//  1. Create a new file named after the interface being mocked
//  2. Implement the mock struct with function fields for each interface method
//  3. Add a compile-time assertion that the mock satisfies the interface
package mocks
