package config

import "fmt"

// RequireNonEmpty reports an error when a required env value is empty.
func RequireNonEmpty(value, envName string) error {
	if value == "" {
		return fmt.Errorf("missing required env %s", envName)
	}
	return nil
}

// RequireOneOf reports an error when value is not among allowed.
func RequireOneOf(value, envName string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("env %s=%q must be one of %v", envName, value, allowed)
}
