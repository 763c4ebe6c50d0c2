package eventbus

// GoroutineID exposes goroutineID to the external test package.
var GoroutineID = goroutineID
