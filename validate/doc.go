// Package validate runs a fixed battery of self-check scenarios against a
// live hashing pipeline and reports pass or fail with diagnostics.
//
// The default battery covers:
//
//   - determinism: a payload hashed through the pipeline and computed
//     directly yields identical digests
//   - fixed-size: digest length does not depend on payload length
//   - cache-correctness: a repeated call within TTL is a cache hit with
//     the same digest
//   - order-preservation: batch results come back in input order
//
// The harness is a smoke test. Scenarios use fresh random payloads so they
// never depend on what the cache already holds.
//
// # Usage
//
//	h := validate.NewHarness()
//	h.Register(validate.DefaultScenarios()...)
//	report := h.Run(ctx, target)
//	if !report.Passed {
//	    for _, r := range report.Failed() {
//	        log.Printf("%s: %s", r.Scenario, r.Message)
//	    }
//	}
//
// Handler exposes the same report over HTTP, answering 200 when every
// scenario passed and 503 otherwise.
package validate
