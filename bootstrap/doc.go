// Package bootstrap
// Author: momentics <momentics@gmail.com>
//
// Server and client bootstraps. A ServerBootstrap binds a listening socket
// on a boss loop and hands every accepted connection to a worker loop with
// a freshly initialised pipeline. A Bootstrap connects outbound sockets or
// adopts already connected ones.
package bootstrap
