// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

// Options returns the effective options.
func (s *Service) Options() Options {
	return s.opts
}
