// Package processor implements the processing steps of a route and the
// asynchronous execution contract they share.
//
// Every step implements [Processor]. A step that finishes immediately calls
// done(true) and returns true; a step that waits, for example for a delay or
// a queue, returns false and calls done(false) later. [Pipeline] chains
// steps without growing the stack for synchronous steps and resumes on the
// completing goroutine for asynchronous ones.
//
// Use [Run] to invoke a processor and block until it finished:
//
//	p := processor.Pipeline(
//		processor.SetHeader("greeting", expr.Constant("hello")),
//		processor.Log(processor.LogConfig{ShowHeaders: true}),
//	)
//	err := processor.Run(ctx, p, ex)
package processor
