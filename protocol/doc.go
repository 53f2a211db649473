// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Example pipeline policies built on the channel core: DISCARD (RFC 863),
// ECHO (RFC 862) and TIME (RFC 868). Each handler logs and closes the
// channel on error.
package protocol
