// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness poller abstraction that event loops
// block in, with a level-triggered epoll implementation for Linux.
package reactor
