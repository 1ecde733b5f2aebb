// Package payload encodes work descriptors into the job's handler column and
// turns them back into something runnable.
//
// A descriptor is either a value of a registered type implementing
// core.Performable, or a MethodCall naming a method on a target value. The
// encoding is a self-describing JSON envelope:
//
//	{"type":"mailer.WelcomeEmail","payload":{"user_id":42}}
//
// Types are resolved through a Registry populated at startup. When a tag is
// unknown, an optional Resolver gets one chance to register it before
// decoding fails with a core.DeserializationError.
//
// Values implementing core.Entity whose type is registered as an entity are
// stored as reference tokens (ref:Type:ID) and fetched again when the job
// runs. A reference whose record no longer exists turns the call into a
// no-op.
package payload
