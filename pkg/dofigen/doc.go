// Package dofigen runs one resolution of a description: load and merge the
// description, lint it, pin its images through the lock file and render the
// Dockerfile.
//
// A typical run:
//
//	c, err := dofigen.New(ctx, dofigen.Config{Lock: lockFile, Telemetry: tel})
//	d, err := c.ParseFrom(ctx, resource.File("dofigen.yml"))
//	messages, err := c.Lint(ctx, d)
//	err = c.Check(messages)
//	pinned, err := c.Pin(ctx, d)
//	dockerfile, err := c.Generate(ctx, pinned)
//	lockFile, err = c.LockFile(d)
//
// A Context is created per run and must not be reused by independent runs.
package dofigen
