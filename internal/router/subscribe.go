package router

import "strings"

// matchPattern reports whether a subscription pattern matches an event
// name: "*" matches everything, an exact name matches itself, and
// "prefix.*" matches any name starting with "prefix.".
func matchPattern(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == name {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(name, prefix+".")
	}
	return false
}

// clientMatches reports whether an event should be delivered to c. A
// pattern held exclusively delivers only to its current holder; patterns
// held non-exclusively always deliver. An exclusive claim elsewhere never
// mutes a non-exclusive subscriber.
func (s *Server) clientMatches(c *client, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for pattern := range c.patterns {
		if !matchPattern(pattern, name) {
			continue
		}
		if !c.exclusive[pattern] {
			return true
		}
		s.exclusiveMu.Lock()
		holder := s.exclusive[pattern]
		s.exclusiveMu.Unlock()
		if holder == c {
			return true
		}
	}
	return false
}

// subscribe registers patterns for a client. An exclusive subscription
// silently supersedes the previous exclusive holder of each pattern.
func (s *Server) subscribe(c *client, patterns []string, exclusive bool) {
	c.mu.Lock()
	for _, p := range patterns {
		c.patterns[p] = true
		if exclusive {
			c.exclusive[p] = true
		}
	}
	c.mu.Unlock()

	if exclusive {
		s.exclusiveMu.Lock()
		for _, p := range patterns {
			s.exclusive[p] = c
		}
		s.exclusiveMu.Unlock()
	}
}

// unsubscribe removes patterns from a client and releases any exclusive
// claims it held on them.
func (s *Server) unsubscribe(c *client, patterns []string) {
	c.mu.Lock()
	for _, p := range patterns {
		delete(c.patterns, p)
		delete(c.exclusive, p)
	}
	c.mu.Unlock()

	s.exclusiveMu.Lock()
	for _, p := range patterns {
		if s.exclusive[p] == c {
			delete(s.exclusive, p)
		}
	}
	s.exclusiveMu.Unlock()
}
