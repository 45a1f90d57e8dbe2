// Package bridge runs synchronous, potentially slow platform calls on a
// fixed pool of worker goroutines so request loops never perform them
// directly.
//
// Run distinguishes two failure kinds. An error returned by the submitted
// function is handed back unchanged. A failure of the pool itself (the job
// panicked, the pool was closed, or the caller gave up before a worker picked
// the job up) is reported as a *JoinError.
//
//	img, err := bridge.Run(ctx, pool, func() (*image.RGBA, error) {
//	    return platform.CaptureMonitor(m)
//	})
//	var jerr *bridge.JoinError
//	if errors.As(err, &jerr) { /* the job never produced a result */ }
package bridge
